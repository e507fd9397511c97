// Package database provides SQLite connectivity for the kiosk gateway.
//
// It owns the connection lifecycle (directory creation, pragmas, file
// permissions, health checks) and a small forward-only migration runner.
// Migrations are passed in as an fs.FS, normally the embedded
// migrations.FS:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Foreign keys are always on. The pool holds a single connection.
package database
