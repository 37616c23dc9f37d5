package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chainlog/internal/chainlog"
)

func TestInMemoryRepository_Save(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	rec, err := repo.Save(ctx, Record{Details: "line", Identity: "alice"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}

	// Caller-supplied values are preserved.
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, err = repo.Save(ctx, Record{ID: "fixed", Details: "line", CreatedAt: ts})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if rec.ID != "fixed" || !rec.CreatedAt.Equal(ts) {
		t.Errorf("Save() = %+v, want caller ID and timestamp kept", rec)
	}

	if _, err := repo.Save(ctx, Record{}); !errors.Is(err, ErrEmptyDetails) {
		t.Errorf("Save(empty) error = %v, want ErrEmptyDetails", err)
	}
	if repo.Len() != 2 {
		t.Errorf("Len() = %d, want 2", repo.Len())
	}
}

func TestInMemoryRepository_DuplicateID(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Save(ctx, Record{ID: "fixed", Details: "first"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := repo.Save(ctx, Record{ID: "fixed", Details: "second"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Save(duplicate) error = %v, want ErrDuplicateID", err)
	}

	list, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Details != "first" {
		t.Errorf("List() = %+v, want only the first record", list)
	}
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	rec, _ := repo.Save(ctx, Record{Details: "original"})
	rec.Details = "changed"

	list, _ := repo.List(ctx, 0)
	if list[0].Details != "original" {
		t.Errorf("stored record was modified through returned pointer: %q", list[0].Details)
	}

	list[0].Details = "changed again"
	list, _ = repo.List(ctx, 0)
	if list[0].Details != "original" {
		t.Errorf("stored record was modified through List result: %q", list[0].Details)
	}
}

func TestInMemoryRepository_List(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := repo.Save(ctx, Record{Details: fmt.Sprintf("line-%d", i)}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "no limit", limit: 0, want: []string{"line-0", "line-1", "line-2", "line-3", "line-4"}},
		{name: "limit keeps most recent", limit: 2, want: []string{"line-3", "line-4"}},
		{name: "limit above size", limit: 10, want: []string{"line-0", "line-1", "line-2", "line-3", "line-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.limit)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d records, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.Details != tt.want[i] {
					t.Errorf("List()[%d] = %q, want %q", i, rec.Details, tt.want[i])
				}
			}
		})
	}
}

func TestInMemoryRepository_QueryByIdentity(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	for i, who := range []string{"alice", "bob", "alice", "alice"} {
		if _, err := repo.Save(ctx, Record{Details: fmt.Sprintf("line-%d", i), Identity: who}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := repo.QueryByIdentity(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("QueryByIdentity() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("QueryByIdentity() returned %d records, want 3", len(got))
	}
	if got[0].Details != "line-3" {
		t.Errorf("first result = %q, want newest line-3", got[0].Details)
	}

	got, _ = repo.QueryByIdentity(ctx, "alice", 2)
	if len(got) != 2 {
		t.Errorf("QueryByIdentity(limit 2) returned %d records", len(got))
	}

	got, _ = repo.QueryByIdentity(ctx, "nobody", 0)
	if len(got) != 0 {
		t.Errorf("QueryByIdentity(nobody) returned %d records", len(got))
	}
}

func TestInMemoryRepository_Concurrent(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := repo.Save(ctx, Record{Details: fmt.Sprintf("line-%d", i)}); err != nil {
				t.Errorf("Save() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if repo.Len() != 20 {
		t.Errorf("Len() = %d, want 20", repo.Len())
	}
}

func TestFromEntry(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	entry := &chainlog.Entry{
		Timestamp: ts,
		Level:     chainlog.LevelWarning,
		Identity:  "alice",
		Digest:    "abc",
		Message:   "slow",
		Raw:       "raw line",
	}

	rec := FromEntry(entry)
	if rec.Details != "raw line" || rec.Digest != "abc" || rec.Level != "WARNING" {
		t.Errorf("FromEntry() = %+v", rec)
	}
	if rec.CreatedAt.Location() != time.UTC || !rec.CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v, want %v in UTC", rec.CreatedAt, ts)
	}

	records := FromEntries([]chainlog.Entry{*entry, *entry})
	if len(records) != 2 || records[0] == records[1] {
		t.Errorf("FromEntries() should return distinct records, got %d", len(records))
	}
}
