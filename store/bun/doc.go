// Package bunstore implements store.Store using the Bun ORM with PostgreSQL
// dialect. It shares its schema with store/postgres, so either backend can
// serve the same database.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it. Pass the
// db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/CorbanSy/PropDash-sub000/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
//
// Atomic operations run in RunInTx and lock the job row, then the run row,
// with SELECT ... FOR UPDATE.
package bunstore
