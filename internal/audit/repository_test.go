package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/devicelive/internal/infrastructure/database"
	"github.com/nerrad567/devicelive/migrations"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := testRepo(t)

	e := &Event{SessionID: "s1", DeviceID: "dev-1", Phase: "connecting", Attempt: 1}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "evt-") || len(e.ID) != len("evt-")+8 {
		t.Errorf("ID = %q, want evt-xxxxxxxx", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreate_RequiresPhase(t *testing.T) {
	repo := testRepo(t)
	if err := repo.Create(context.Background(), &Event{SessionID: "s1"}); err == nil {
		t.Error("Create() expected error for empty phase")
	}
}

func TestList_NewestFirstRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	in := []Event{
		{SessionID: "s1", DeviceID: "dev-1", Phase: "connecting", Attempt: 1, TokenFP: "ab12", CreatedAt: base},
		{SessionID: "s1", DeviceID: "dev-1", Phase: "auth_pending", Attempt: 1, TokenFP: "ab12", CreatedAt: base.Add(time.Second)},
		{SessionID: "s1", DeviceID: "dev-1", Phase: "error", Message: "Authentication failed", TokenFP: "ab12", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range in {
		if err := repo.Create(ctx, &in[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 || len(res.Events) != 3 {
		t.Fatalf("Total = %d, len = %d, want 3", res.Total, len(res.Events))
	}
	if res.Limit != defaultLimit || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d", res.Limit, res.Offset)
	}

	got := res.Events[0]
	if got.Phase != "error" || got.Message != "Authentication failed" || got.TokenFP != "ab12" {
		t.Errorf("newest = %+v", got)
	}
	if !got.CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if res.Events[2].Phase != "connecting" || res.Events[2].Attempt != 1 {
		t.Errorf("oldest = %+v", res.Events[2])
	}
}

func TestList_SameTimestampKeepsInsertOrder(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	for _, phase := range []string{"connecting", "auth_pending", "subscribed"} {
		if err := repo.Create(ctx, &Event{Phase: phase, CreatedAt: at}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Events[0].Phase != "subscribed" || res.Events[2].Phase != "connecting" {
		t.Errorf("order = %s, %s, %s", res.Events[0].Phase, res.Events[1].Phase, res.Events[2].Phase)
	}
}

func TestList_Filters(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	seed := []Event{
		{DeviceID: "dev-1", Phase: "connecting"},
		{DeviceID: "dev-1", Phase: "subscribed"},
		{DeviceID: "dev-2", Phase: "connecting"},
		{DeviceID: "dev-2", Phase: "error"},
		{DeviceID: "dev-2", Phase: "connecting"},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		total  int
		page   int
	}{
		{"all", Filter{}, 5, 5},
		{"device", Filter{DeviceID: "dev-2"}, 3, 3},
		{"phase", Filter{Phase: "connecting"}, 3, 3},
		{"device and phase", Filter{DeviceID: "dev-1", Phase: "connecting"}, 1, 1},
		{"no match", Filter{DeviceID: "dev-9"}, 0, 0},
		{"limit", Filter{Limit: 2}, 5, 2},
		{"offset", Filter{Limit: 2, Offset: 4}, 5, 1},
		{"negative offset", Filter{Offset: -3}, 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Events) != tt.page {
				t.Errorf("len(Events) = %d, want %d", len(res.Events), tt.page)
			}
			if res.Events == nil {
				t.Error("Events should be an empty slice, not nil")
			}
		})
	}
}

func TestFilter_Normalised(t *testing.T) {
	tests := []struct {
		in        Filter
		wantLimit int
	}{
		{Filter{}, defaultLimit},
		{Filter{Limit: -1}, defaultLimit},
		{Filter{Limit: 10}, 10},
		{Filter{Limit: 1000}, maxLimit},
	}
	for _, tt := range tests {
		if got := tt.in.normalised().Limit; got != tt.wantLimit {
			t.Errorf("normalised(%d).Limit = %d, want %d", tt.in.Limit, got, tt.wantLimit)
		}
	}
}
