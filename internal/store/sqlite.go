package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentnet/internal/ledger"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite backs local development and tests. Same semantics as Postgres; the
// single-writer connection cap makes the insert-or-ignore conflict path the
// serialization point for concurrent credits.
type SQLite struct {
	db *sql.DB

	StreakBonus func(streak int) int64
}

func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = abs
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() {
	_ = s.db.Close()
}

func (s *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE,
			wallet_address TEXT UNIQUE,
			password_hash TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			is_home INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_api_keys (
			key_hash TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			revoked_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS twitter_connections (
			user_id TEXT PRIMARY KEY,
			twitter_user_id TEXT NOT NULL,
			screen_name TEXT NOT NULL,
			access_token TEXT NOT NULL,
			access_token_secret BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_points (
			user_id TEXT PRIMARY KEY,
			points INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			day TEXT NOT NULL,
			points INTEGER NOT NULL,
			streak INTEGER NOT NULL DEFAULT 0,
			reference TEXT,
			created_at TEXT NOT NULL,
			UNIQUE(user_id, action, day)
		)`,
		`CREATE TABLE IF NOT EXISTS share_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			message_id TEXT,
			tweet_id TEXT NOT NULL,
			image_path TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_created ON ledger_entries(user_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLite) CreditOnce(ctx context.Context, userID uuid.UUID, action ledger.Action, points int64, reference string) (ledger.CreditResult, error) {
	day := ledger.Day(time.Now())
	now := nowRFC3339()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_points (user_id, points, updated_at) VALUES (?, 0, ?)
	`, userID.String(), now); err != nil {
		return ledger.CreditResult{}, err
	}

	streak := 0
	if action == ledger.ActionDailyCheckIn {
		yesterday := ledger.Day(time.Now().AddDate(0, 0, -1))
		var prev int
		err := tx.QueryRowContext(ctx, `
			SELECT streak FROM ledger_entries WHERE user_id = ? AND action = ? AND day = ?
		`, userID.String(), string(action), yesterday).Scan(&prev)
		switch {
		case err == nil:
			streak = prev + 1
		case errors.Is(err, sql.ErrNoRows):
			streak = 1
		default:
			return ledger.CreditResult{}, err
		}
		if s.StreakBonus != nil {
			points += s.StreakBonus(streak)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_entries (user_id, action, day, points, streak, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID.String(), string(action), day, points, streak, reference, now)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return ledger.CreditResult{}, err
	}

	out := ledger.CreditResult{Awarded: inserted == 1, Streak: streak}
	if out.Awarded {
		out.Points = points
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_points SET points = points + ?, updated_at = ? WHERE user_id = ?
		`, points, now, userID.String()); err != nil {
			return ledger.CreditResult{}, err
		}
	}
	if err := tx.QueryRowContext(ctx, `
		SELECT points FROM user_points WHERE user_id = ?
	`, userID.String()).Scan(&out.TotalPoints); err != nil {
		return ledger.CreditResult{}, err
	}

	return out, tx.Commit()
}

func (s *SQLite) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var points int64
	err := s.db.QueryRowContext(ctx, `
		SELECT points FROM user_points WHERE user_id = ?
	`, userID.String()).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return points, err
}

func (s *SQLite) History(ctx context.Context, userID uuid.UUID, action ledger.Action, limit, offset int) ([]ledger.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT user_id, action, day, points, streak, COALESCE(reference, ''), created_at
		FROM ledger_entries WHERE user_id = ?
	`
	args := []any{userID.String()}
	if action != "" {
		q += ` AND action = ?`
		args = append(args, string(action))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) CreditedToday(ctx context.Context, userID uuid.UUID, action ledger.Action) (*ledger.Entry, error) {
	day := ledger.Day(time.Now())
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, action, day, points, streak, COALESCE(reference, ''), created_at
		FROM ledger_entries WHERE user_id = ? AND action = ? AND day = ?
	`, userID.String(), string(action), day)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var e ledger.Entry
	var id, action, createdAt string
	if err := row.Scan(&id, &action, &e.Day, &e.Points, &e.Streak, &e.Reference, &createdAt); err != nil {
		return ledger.Entry{}, err
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("parse user id: %w", err)
	}
	e.UserID = uid
	e.Action = ledger.Action(action)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}

func (s *SQLite) UpsertWalletUser(ctx context.Context, address string) (User, uuid.UUID, bool, error) {
	address = strings.ToLower(strings.TrimSpace(address))

	var u User
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(username, ''), COALESCE(wallet_address, ''), created_at
		FROM users WHERE wallet_address = ?
	`, address).Scan(&u.ID, &u.Username, &u.WalletAddress, &created)
	if err == nil {
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		var wsID uuid.UUID
		err = s.db.QueryRowContext(ctx, `
			SELECT id FROM workspaces WHERE user_id = ? AND is_home = 1
		`, u.ID.String()).Scan(&wsID)
		return u, wsID, false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, uuid.Nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, uuid.Nil, false, err
	}
	defer tx.Rollback()

	now := nowRFC3339()
	u = User{ID: uuid.New(), WalletAddress: address, Username: "user_" + shortAddress(address)}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, wallet_address, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`, u.ID.String(), u.Username, address, now, now); err != nil {
		return User{}, uuid.Nil, false, err
	}

	wsID := uuid.New()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, user_id, name, is_home, created_at) VALUES (?, ?, 'Home', 1, ?)
	`, wsID.String(), u.ID.String(), now); err != nil {
		return User{}, uuid.Nil, false, err
	}

	return u, wsID, true, tx.Commit()
}

func (s *SQLite) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback()

	now := nowRFC3339()
	u := User{ID: uuid.New(), Username: username, PasswordHash: passwordHash}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`, u.ID.String(), username, passwordHash, now, now); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return User{}, ErrDuplicate
		}
		return User{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, user_id, name, is_home, created_at) VALUES (?, ?, 'Home', 1, ?)
	`, uuid.New().String(), u.ID.String(), now); err != nil {
		return User{}, err
	}
	return u, tx.Commit()
}

func (s *SQLite) UserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(username, ''), COALESCE(wallet_address, ''), COALESCE(password_hash, ''), created_at
		FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.WalletAddress, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return u, nil
}

func (s *SQLite) InsertAPIKey(ctx context.Context, userID uuid.UUID, keyHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_api_keys (key_hash, user_id, created_at) VALUES (?, ?, ?)
	`, keyHash, userID.String(), nowRFC3339())
	return err
}

func (s *SQLite) UserIDByAPIKeyHash(ctx context.Context, keyHash string) (uuid.UUID, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_api_keys WHERE key_hash = ? AND revoked_at IS NULL
	`, keyHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(id)
}

func (s *SQLite) UpsertTwitterConnection(ctx context.Context, conn TwitterConnection) error {
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO twitter_connections
			(user_id, twitter_user_id, screen_name, access_token, access_token_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			twitter_user_id = excluded.twitter_user_id,
			screen_name = excluded.screen_name,
			access_token = excluded.access_token,
			access_token_secret = excluded.access_token_secret,
			updated_at = excluded.updated_at
	`, conn.UserID.String(), conn.TwitterUserID, conn.ScreenName, conn.AccessToken, conn.AccessTokenSecret, now, now)
	return err
}

func (s *SQLite) TwitterConnectionByUser(ctx context.Context, userID uuid.UUID) (TwitterConnection, error) {
	var c TwitterConnection
	var id, created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, twitter_user_id, screen_name, access_token, access_token_secret, created_at, updated_at
		FROM twitter_connections WHERE user_id = ?
	`, userID.String()).Scan(&id, &c.TwitterUserID, &c.ScreenName, &c.AccessToken, &c.AccessTokenSecret, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return TwitterConnection{}, ErrNotFound
	}
	if err != nil {
		return TwitterConnection{}, err
	}
	c.UserID = userID
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return c, nil
}

func (s *SQLite) DeleteTwitterConnection(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM twitter_connections WHERE user_id = ?`, userID.String())
	return err
}

func (s *SQLite) InsertShareRecord(ctx context.Context, rec ShareRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_records (id, user_id, message_id, tweet_id, image_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.UserID.String(), rec.MessageID, rec.TweetID, rec.ImagePath, nowRFC3339())
	return err
}
