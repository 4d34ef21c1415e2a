package store

import (
	"context"
	"errors"
	"time"

	"agentnet/internal/ledger"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

type User struct {
	ID            uuid.UUID
	Username      string
	WalletAddress string
	PasswordHash  string
	CreatedAt     time.Time
}

// TwitterConnection is one user's stored OAuth 1.0a token pair. The token
// secret is AES-GCM sealed before it reaches the store and never leaves it
// unsealed.
type TwitterConnection struct {
	UserID            uuid.UUID
	TwitterUserID     string
	ScreenName        string
	AccessToken       string
	AccessTokenSecret []byte // sealed
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ShareRecord struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	MessageID string
	TweetID   string
	ImagePath string
	CreatedAt time.Time
}

// Store is the relational backend: the points ledger plus users, API keys,
// Twitter connections, workspaces and share records. Postgres backs
// production; SQLite backs local development and tests (same semantics, both
// rely on the unique (user, action, day) constraint for at-most-once
// crediting).
type Store interface {
	ledger.Ledger

	// Users and workspaces.
	UpsertWalletUser(ctx context.Context, address string) (User, uuid.UUID, bool, error)
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)

	// API keys (hash lookup; raw keys are never stored).
	InsertAPIKey(ctx context.Context, userID uuid.UUID, keyHash string) error
	UserIDByAPIKeyHash(ctx context.Context, keyHash string) (uuid.UUID, error)

	// Twitter connections.
	UpsertTwitterConnection(ctx context.Context, conn TwitterConnection) error
	TwitterConnectionByUser(ctx context.Context, userID uuid.UUID) (TwitterConnection, error)
	DeleteTwitterConnection(ctx context.Context, userID uuid.UUID) error

	// Share records.
	InsertShareRecord(ctx context.Context, rec ShareRecord) error

	Close()
}
