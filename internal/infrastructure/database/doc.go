// Package database owns the bridge's SQLite file: capability verdicts
// from discovery sweeps and the run bookkeeping that lets an
// interrupted sweep resume.
//
// The handle embeds *sql.DB, so callers query it directly; the package
// adds embedded-schema migrations (see MigrationsFS), a health probe
// for the startup check, and the pragmas a single-writer SQLite
// deployment wants (WAL, busy timeout, foreign keys). The file is
// created 0600: capability data is not sensitive, but the database
// lives next to config that is.
//
// Migrations are additive-only. New columns arrive NULLABLE or with a
// DEFAULT so an older binary can still read a newer file, and every
// version ships both .up.sql and .down.sql.
package database
