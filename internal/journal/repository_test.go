package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/database"
	_ "github.com/nerrad567/ferrobot-core/migrations"
)

// setupTestDB opens a migrated journal database in a temp directory.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

var (
	left  = device.Identity{Kind: device.KindSparkMax, ID: 1}
	right = device.Identity{Kind: device.KindSparkMax, ID: 2}
)

func TestSQLiteRepository_AppendAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Device: left, Tag: 2, Source: SourceQueued, Payload: []byte{1, 2}, RecordedAt: base},
		{Device: right, Tag: 2, Source: SourceQueued, Payload: []byte{3}, RecordedAt: base.Add(time.Millisecond)},
		{Device: left, Tag: 4, Source: SourceSync, Payload: []byte{9}, Response: "ok", RecordedAt: base.Add(2 * time.Millisecond)},
	}
	if err := repo.Append(ctx, entries); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	for _, e := range entries {
		if e.ID == "" {
			t.Error("Append() did not assign an ID")
		}
	}

	t.Run("all entries newest first", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 3 || len(res.Entries) != 3 {
			t.Fatalf("List() total=%d len=%d, want 3", res.Total, len(res.Entries))
		}
		first := res.Entries[0]
		if first.Source != SourceSync || first.Response != "ok" || first.Device != left {
			t.Errorf("first entry = %+v", first)
		}
		if !first.RecordedAt.Equal(base.Add(2 * time.Millisecond)) {
			t.Errorf("RecordedAt = %v", first.RecordedAt)
		}
		if res.Limit != defaultLimit {
			t.Errorf("Limit = %d, want %d", res.Limit, defaultLimit)
		}
	})

	t.Run("filter by device", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Device: &right})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 1 || string(res.Entries[0].Payload) != string([]byte{3}) {
			t.Errorf("List(right) = %+v", res)
		}
	})

	t.Run("filter by source", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Source: SourceQueued})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 2 {
			t.Errorf("List(queued) total = %d, want 2", res.Total)
		}
	})

	t.Run("pagination clamps", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Limit: 10000, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Limit != maxLimit || len(res.Entries) != 1 || res.Total != 3 {
			t.Errorf("List() limit=%d len=%d total=%d", res.Limit, len(res.Entries), res.Total)
		}
	})
}

func TestSQLiteRepository_AppendEmpty(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	if err := repo.Append(context.Background(), nil); err != nil {
		t.Errorf("Append(nil) error = %v", err)
	}
}

func TestSQLiteRepository_Modes(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	for _, m := range []device.Mode{device.ModeTeleoperated, device.ModeDisabled, device.ModeAutonomous} {
		if err := repo.RecordMode(ctx, ModeChange{Mode: m}); err != nil {
			t.Fatalf("RecordMode(%s) error = %v", m, err)
		}
	}

	got, err := repo.Modes(ctx, 2)
	if err != nil {
		t.Fatalf("Modes() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Modes() len = %d, want 2", len(got))
	}
	if got[0].Mode != device.ModeAutonomous || got[1].Mode != device.ModeDisabled {
		t.Errorf("Modes() = %+v", got)
	}
	if got[0].Seq <= got[1].Seq || got[0].ChangedAt.IsZero() {
		t.Errorf("Modes() ordering or timestamps wrong: %+v", got)
	}
}
