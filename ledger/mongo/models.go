package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

type recordModel struct {
	ServerID string    `bson:"server_id"`
	LastPing time.Time `bson:"last_ping"`
	Created  time.Time `bson:"created"`
}

func fromRecordModel(m *recordModel) (*dominion.Record, error) {
	parsedID, err := id.ParseServerID(m.ServerID)
	if err != nil {
		return nil, fmt.Errorf("dominion/mongo: parse server id %q: %w", m.ServerID, err)
	}

	return &dominion.Record{
		ServerID: parsedID,
		LastPing: m.LastPing,
		Created:  m.Created,
	}, nil
}
