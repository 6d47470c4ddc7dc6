// Package database opens the SQLite file behind the command journal and
// applies its schema migrations.
//
// The handle holds a single connection with foreign keys on and
// transactions started as BEGIN IMMEDIATE, so concurrent writers queue in
// Go instead of failing with SQLITE_BUSY. In WAL mode Close checkpoints
// and truncates the log so the database file is self-contained after a
// clean shutdown. The file is created with 0600 permissions.
//
// Migrations are embedded by the migrations package, which registers them
// with RegisterMigrations from an init function. Files are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
//
//	import _ "github.com/nerrad567/ferrobot-core/migrations"
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
