package bunledger

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

type recordModel struct {
	bun.BaseModel `bun:"table:dominion_records"`

	ServerID string    `bun:"server_id,pk"`
	LastPing time.Time `bun:"last_ping,notnull"`
	Created  time.Time `bun:"created,notnull"`
}

func toRecordModel(r *dominion.Record) *recordModel {
	return &recordModel{
		ServerID: r.ServerID.String(),
		LastPing: r.LastPing,
		Created:  r.Created,
	}
}

func fromRecordModel(m *recordModel) (*dominion.Record, error) {
	sid, err := id.ParseServerID(m.ServerID)
	if err != nil {
		return nil, fmt.Errorf("dominion/bun: parse server id %q: %w", m.ServerID, err)
	}
	return &dominion.Record{
		ServerID: sid,
		LastPing: m.LastPing,
		Created:  m.Created,
	}, nil
}
