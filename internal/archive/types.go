package archive

import (
	"context"
	"time"
)

const (
	RoleStudent = "student"
	RoleBot     = "bot"
)

// TurnRecord is one exchange line of a call, stored after redaction.
type TurnRecord struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps call transcripts beyond the on-screen history window.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns up to limit turns of a session in chronological order.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}

func normalize(record TurnRecord, newID func() string) TurnRecord {
	if record.ID == "" {
		record.ID = newID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return record
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

func reverse(items []TurnRecord) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
