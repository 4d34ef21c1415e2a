package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action identifies the business reason for a credit. At most one entry per
// (user, action, calendar day) ever exists; the backing store's unique
// constraint enforces that, not the application layer.
type Action string

const (
	ActionDailyCheckIn      Action = "daily-check-in"
	ActionFirstConversation Action = "first-conversation"
	ActionImageShare        Action = "image-share"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionDailyCheckIn, ActionFirstConversation, ActionImageShare:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown ledger action %q", s)
}

// Entry is one credited reward. Day is the UTC calendar day the credit
// belongs to, in YYYY-MM-DD form.
type Entry struct {
	UserID    uuid.UUID `json:"user_id"`
	Action    Action    `json:"action"`
	Day       string    `json:"day"`
	Points    int64     `json:"points"`
	Streak    int       `json:"streak,omitempty"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CreditResult struct {
	Awarded     bool  `json:"awarded"`
	Points      int64 `json:"points"`
	TotalPoints int64 `json:"total_points"`
	Streak      int   `json:"streak,omitempty"`
}

// Ledger is the points store. CreditOnce is idempotent per
// (user, action, UTC day): the duplicate case reports Awarded=false with the
// unchanged balance and is not an error. Two concurrent credits for the same
// key both reach the store and exactly one wins the insert.
type Ledger interface {
	CreditOnce(ctx context.Context, userID uuid.UUID, action Action, points int64, reference string) (CreditResult, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	History(ctx context.Context, userID uuid.UUID, action Action, limit, offset int) ([]Entry, error)
	CreditedToday(ctx context.Context, userID uuid.UUID, action Action) (*Entry, error)
}

// Day returns the UTC calendar day for t, the uniqueness key component.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
