package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/confer/pkg/schema"
)

// DefaultTTL is how long an idle transcript is kept
const DefaultTTL = 30 * time.Minute

const maxSessionIDLength = 128

// ErrInvalidSessionID is returned for ids that are empty or not path-safe
var ErrInvalidSessionID = errors.New("invalid session id")

// Store persists transcripts keyed by session id.
// A missing or expired session loads as an empty transcript.
type Store interface {
	LoadHistory(ctx context.Context, sessionID string) ([]schema.Message, error)
	ReplaceHistory(ctx context.Context, sessionID string, messages []schema.Message, ttl time.Duration) error
	Close() error
}

// Purger is implemented by stores without native expiry. Purge removes
// expired sessions and reports how many were removed.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// ValidateSessionID checks that a session id is usable as a key or file name
func ValidateSessionID(sessionID string) error {
	switch {
	case sessionID == "":
		return fmt.Errorf("%w: cannot be empty", ErrInvalidSessionID)
	case len(sessionID) > maxSessionIDLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidSessionID, maxSessionIDLength)
	case strings.Contains(sessionID, ".."):
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidSessionID)
	case strings.ContainsAny(sessionID, "/\\"):
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidSessionID)
	case strings.Contains(sessionID, "\x00"):
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidSessionID)
	}
	return nil
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// StoreConfig selects and configures a Store backend
type StoreConfig struct {
	// Backend is one of memory, file, sqlite or redis
	Backend string

	// Path is the sessions directory for file and the database file for sqlite
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// OpenStore creates the backend named in cfg
func OpenStore(cfg StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}
