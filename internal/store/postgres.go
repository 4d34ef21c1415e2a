package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentnet/internal/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool

	// StreakBonus maps a check-in streak length to extra points folded into
	// the same ledger entry. Nil means no bonus.
	StreakBonus func(streak int) int64
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) CreditOnce(ctx context.Context, userID uuid.UUID, action ledger.Action, points int64, reference string) (ledger.CreditResult, error) {
	day := ledger.Day(time.Now())

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.CreditResult{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		insert into user_points (user_id, points, updated_at)
		values ($1, 0, now())
		on conflict (user_id) do nothing
	`, userID); err != nil {
		return ledger.CreditResult{}, err
	}

	streak := 0
	if action == ledger.ActionDailyCheckIn {
		yesterday := ledger.Day(time.Now().AddDate(0, 0, -1))
		var prev int
		err := tx.QueryRow(ctx, `
			select streak from ledger_entries
			where user_id = $1 and action = $2 and day = $3
		`, userID, action, yesterday).Scan(&prev)
		switch {
		case err == nil:
			streak = prev + 1
		case errors.Is(err, pgx.ErrNoRows):
			streak = 1
		default:
			return ledger.CreditResult{}, err
		}
		if p.StreakBonus != nil {
			points += p.StreakBonus(streak)
		}
	}

	// The unique constraint on (user_id, action, day) is the entire
	// duplicate-credit defense; concurrent inserts race here and exactly one
	// row lands.
	tag, err := tx.Exec(ctx, `
		insert into ledger_entries (user_id, action, day, points, streak, reference, created_at)
		values ($1, $2, $3, $4, $5, $6, now())
		on conflict (user_id, action, day) do nothing
	`, userID, action, day, points, streak, reference)
	if err != nil {
		return ledger.CreditResult{}, err
	}

	res := ledger.CreditResult{Awarded: tag.RowsAffected() == 1, Streak: streak}
	if res.Awarded {
		res.Points = points
		err = tx.QueryRow(ctx, `
			update user_points set points = points + $2, updated_at = now()
			where user_id = $1
			returning points
		`, userID, points).Scan(&res.TotalPoints)
	} else {
		err = tx.QueryRow(ctx, `select points from user_points where user_id = $1`, userID).Scan(&res.TotalPoints)
	}
	if err != nil {
		return ledger.CreditResult{}, err
	}

	return res, tx.Commit(ctx)
}

func (p *Postgres) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var points int64
	err := p.pool.QueryRow(ctx, `select points from user_points where user_id = $1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return points, err
}

func (p *Postgres) History(ctx context.Context, userID uuid.UUID, action ledger.Action, limit, offset int) ([]ledger.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		select user_id, action, day, points, streak, reference, created_at
		from ledger_entries
		where user_id = $1
	`
	args := []any{userID}
	if action != "" {
		q += ` and action = $2`
		args = append(args, action)
	}
	q += fmt.Sprintf(` order by created_at desc, id desc limit %d offset %d`, limit, offset)

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var ref *string
		if err := rows.Scan(&e.UserID, &e.Action, &e.Day, &e.Points, &e.Streak, &ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		if ref != nil {
			e.Reference = *ref
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) CreditedToday(ctx context.Context, userID uuid.UUID, action ledger.Action) (*ledger.Entry, error) {
	day := ledger.Day(time.Now())
	var e ledger.Entry
	var ref *string
	err := p.pool.QueryRow(ctx, `
		select user_id, action, day, points, streak, reference, created_at
		from ledger_entries
		where user_id = $1 and action = $2 and day = $3
	`, userID, action, day).Scan(&e.UserID, &e.Action, &e.Day, &e.Points, &e.Streak, &ref, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ref != nil {
		e.Reference = *ref
	}
	return &e, nil
}

func (p *Postgres) UpsertWalletUser(ctx context.Context, address string) (User, uuid.UUID, bool, error) {
	address = strings.ToLower(strings.TrimSpace(address))

	var u User
	err := p.pool.QueryRow(ctx, `
		select id, coalesce(username, ''), coalesce(wallet_address, ''), created_at
		from users where wallet_address = $1
	`, address).Scan(&u.ID, &u.Username, &u.WalletAddress, &u.CreatedAt)
	if err == nil {
		var wsID uuid.UUID
		err = p.pool.QueryRow(ctx, `
			select id from workspaces where user_id = $1 and is_home
		`, u.ID).Scan(&wsID)
		return u, wsID, false, err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return User{}, uuid.Nil, false, err
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, uuid.Nil, false, err
	}
	defer tx.Rollback(ctx)

	u = User{ID: uuid.New(), WalletAddress: address, Username: "user_" + shortAddress(address)}
	if err := tx.QueryRow(ctx, `
		insert into users (id, username, wallet_address, created_at, updated_at)
		values ($1, $2, $3, now(), now())
		returning created_at
	`, u.ID, u.Username, address).Scan(&u.CreatedAt); err != nil {
		return User{}, uuid.Nil, false, err
	}

	wsID := uuid.New()
	if _, err := tx.Exec(ctx, `
		insert into workspaces (id, user_id, name, is_home, created_at)
		values ($1, $2, 'Home', true, now())
	`, wsID, u.ID); err != nil {
		return User{}, uuid.Nil, false, err
	}

	return u, wsID, true, tx.Commit(ctx)
}

func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	u := User{ID: uuid.New(), Username: username, PasswordHash: passwordHash}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `
		insert into users (id, username, password_hash, created_at, updated_at)
		values ($1, $2, $3, now(), now())
		returning created_at
	`, u.ID, username, passwordHash).Scan(&u.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicate
		}
		return User{}, err
	}
	if _, err := tx.Exec(ctx, `
		insert into workspaces (id, user_id, name, is_home, created_at)
		values ($1, $2, 'Home', true, now())
	`, uuid.New(), u.ID); err != nil {
		return User{}, err
	}
	return u, tx.Commit(ctx)
}

func (p *Postgres) UserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx, `
		select id, coalesce(username, ''), coalesce(wallet_address, ''), coalesce(password_hash, ''), created_at
		from users where username = $1
	`, username).Scan(&u.ID, &u.Username, &u.WalletAddress, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (p *Postgres) InsertAPIKey(ctx context.Context, userID uuid.UUID, keyHash string) error {
	_, err := p.pool.Exec(ctx, `
		insert into user_api_keys (key_hash, user_id, created_at)
		values ($1, $2, now())
	`, keyHash, userID)
	return err
}

func (p *Postgres) UserIDByAPIKeyHash(ctx context.Context, keyHash string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := p.pool.QueryRow(ctx, `
		select user_id from user_api_keys
		where key_hash = $1 and revoked_at is null
	`, keyHash).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	return userID, err
}

func (p *Postgres) UpsertTwitterConnection(ctx context.Context, conn TwitterConnection) error {
	_, err := p.pool.Exec(ctx, `
		insert into twitter_connections
			(user_id, twitter_user_id, screen_name, access_token, access_token_secret, created_at, updated_at)
		values ($1, $2, $3, $4, $5, now(), now())
		on conflict (user_id) do update set
			twitter_user_id = excluded.twitter_user_id,
			screen_name = excluded.screen_name,
			access_token = excluded.access_token,
			access_token_secret = excluded.access_token_secret,
			updated_at = now()
	`, conn.UserID, conn.TwitterUserID, conn.ScreenName, conn.AccessToken, conn.AccessTokenSecret)
	return err
}

func (p *Postgres) TwitterConnectionByUser(ctx context.Context, userID uuid.UUID) (TwitterConnection, error) {
	var c TwitterConnection
	err := p.pool.QueryRow(ctx, `
		select user_id, twitter_user_id, screen_name, access_token, access_token_secret, created_at, updated_at
		from twitter_connections where user_id = $1
	`, userID).Scan(&c.UserID, &c.TwitterUserID, &c.ScreenName, &c.AccessToken, &c.AccessTokenSecret, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TwitterConnection{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) DeleteTwitterConnection(ctx context.Context, userID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `delete from twitter_connections where user_id = $1`, userID)
	return err
}

func (p *Postgres) InsertShareRecord(ctx context.Context, rec ShareRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := p.pool.Exec(ctx, `
		insert into share_records (id, user_id, message_id, tweet_id, image_path, created_at)
		values ($1, $2, $3, $4, $5, now())
	`, rec.ID, rec.UserID, rec.MessageID, rec.TweetID, rec.ImagePath)
	return err
}

func shortAddress(address string) string {
	address = strings.TrimPrefix(address, "0x")
	if len(address) > 8 {
		return address[:8]
	}
	return address
}
