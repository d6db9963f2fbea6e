// Package database provides the SQLite store behind the session event
// trail.
//
// Open applies the connection pragmas (WAL, busy timeout, foreign keys) and
// pins the pool to a single connection, matching SQLite's single writer.
// Migrate applies versioned .up.sql files from any fs.FS; the binary passes
// the embedded migrations.FS.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a
// default, and every .up.sql has a matching .down.sql.
package database
