package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	turns := []TurnRecord{
		{StudentID: "s1", SessionID: "call-a", Role: RoleStudent, Content: "where is room 204", CreatedAt: base},
		{StudentID: "s1", SessionID: "call-a", Role: RoleBot, Content: "second floor, east wing", CreatedAt: base.Add(time.Second)},
		{StudentID: "s1", SessionID: "call-b", Role: RoleStudent, Content: "other call", CreatedAt: base.Add(2 * time.Second)},
		{StudentID: "s1", SessionID: "call-a", Role: RoleStudent, Content: "thanks", PIIRedacted: true, CreatedAt: base.Add(3 * time.Second)},
	}
	for _, r := range turns {
		if err := s.SaveTurn(ctx, r); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	got, err := s.RecentTurns(ctx, "call-a", 2)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(RecentTurns()) = %d, want 2", len(got))
	}
	if got[0].Content != "second floor, east wing" || got[1].Content != "thanks" {
		t.Fatalf("RecentTurns() order = %q, %q", got[0].Content, got[1].Content)
	}
	if got[1].ID == "" || !got[1].PIIRedacted {
		t.Fatalf("unexpected record: %+v", got[1])
	}
	if !got[0].CreatedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("CreatedAt = %v", got[0].CreatedAt)
	}

	none, err := s.RecentTurns(ctx, "missing", 5)
	if err != nil || len(none) != 0 {
		t.Fatalf("RecentTurns(missing) = %v, %v", none, err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "calls.sqlite"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore(\"\") error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}

	s, err = NewStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "a.sqlite"))
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("NewStore(sqlite) = %T, want *SQLiteStore", s)
	}

	if _, err := NewStore(ctx, "mysql://x"); err == nil {
		t.Fatalf("NewStore(mysql) expected error")
	}
}
