package sqlite

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/persistence"
)

// NewSQLiteTest returns a store over a fresh in-memory database.
func NewSQLiteTest(t *testing.T) *Store {
	t.Helper()
	db, err := persistence.NewSQLite(context.Background(), ":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	return New(db.DB)
}
