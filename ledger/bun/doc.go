// Package bunledger implements dominion.Ledger using the Bun ORM with
// PostgreSQL dialect. Suitable for services that already carry a *bun.DB
// and want dominance records to live next to their other tables.
//
// The caller owns the *bun.DB lifecycle — bunledger never closes it. Pass
// the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunledger "github.com/xraph/dominion/ledger/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	ledger := bunledger.New(db)
//	ledger.Migrate(ctx)
package bunledger
