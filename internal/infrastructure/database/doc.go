// Package database provides the SQLite store behind the bridge's device
// persistence.
//
// It opens the database with WAL mode and a busy timeout, restricts the pool
// to one connection (SQLite has a single writer) and applies embedded schema
// migrations in version order, one transaction per migration.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Migrations are additive only.
package database
