package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means the parked state expired or was already consumed; the
// flow must restart, never be recovered.
var ErrNotFound = errors.New("pending: not found or expired")

const defaultTTL = 10 * time.Minute

// Store parks short-lived handshake state in Redis: the OAuth 1.0a request
// token secret between the start and callback legs, and issued wallet login
// challenges. Values are single-use; reads consume them.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func Open(addr, password string, db int, ttl time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStore(rdb, ttl), nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func oauthKey(token string) string    { return "agentnet:oauth:request:" + token }
func walletKey(address string) string { return "agentnet:wallet:challenge:" + address }

// RequestToken is the parked half of an OAuth 1.0a handshake: the token
// secret needed to sign the access-token exchange, and the user who started
// the flow (the callback leg arrives without credentials).
type RequestToken struct {
	Secret string `json:"secret"`
	UserID string `json:"user_id"`
}

// PutRequestToken parks the request token state until the callback leg.
func (s *Store) PutRequestToken(ctx context.Context, token string, rt RequestToken) error {
	raw, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, oauthKey(token), raw, s.ttl).Err()
}

// TakeRequestToken consumes the parked state for token.
func (s *Store) TakeRequestToken(ctx context.Context, token string) (RequestToken, error) {
	raw, err := s.rdb.GetDel(ctx, oauthKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RequestToken{}, ErrNotFound
	}
	if err != nil {
		return RequestToken{}, err
	}
	var rt RequestToken
	if err := json.Unmarshal(raw, &rt); err != nil {
		return RequestToken{}, err
	}
	return rt, nil
}

// WalletChallenge is the parked half of a wallet login.
type WalletChallenge struct {
	Nonce    string `json:"nonce"`
	IssuedAt string `json:"issued_at"`
}

func (s *Store) PutWalletChallenge(ctx context.Context, address string, ch WalletChallenge) error {
	raw, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, walletKey(address), raw, s.ttl).Err()
}

func (s *Store) TakeWalletChallenge(ctx context.Context, address string) (WalletChallenge, error) {
	raw, err := s.rdb.GetDel(ctx, walletKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return WalletChallenge{}, ErrNotFound
	}
	if err != nil {
		return WalletChallenge{}, err
	}
	var ch WalletChallenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return WalletChallenge{}, err
	}
	return ch, nil
}
