package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/astro-consult/internal/persistence"
	"github.com/example/astro-consult/internal/persistence/sqlite"
)

// SQLiteHarness provides repository access backed by a temporary SQLite
// database for integration-style persistence tests.
type SQLiteHarness struct {
	Consultations persistence.ConsultationRepository
	Messages      persistence.MessageRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a harness over a temporary database file
// that is migrated automatically. A cleanup callback is registered with
// the provided testing.TB; calling Close earlier is also fine.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	dir := tb.TempDir()
	path := filepath.Join(dir, "consult.db")

	db, err := sqlite.Open("file:" + path + "?_foreign_keys=on")
	if err != nil {
		tb.Fatalf("opening sqlite database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		tb.Fatalf("migrating sqlite database: %v", err)
	}

	harness := &SQLiteHarness{
		Consultations: sqlite.NewConsultationRepository(db),
		Messages:      sqlite.NewMessageRepository(db),
		cleanup: func() {
			db.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}
