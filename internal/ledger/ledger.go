package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Entry records a posted review.
type Entry struct {
	Key       string    `json:"key"`
	Repo      string    `json:"repo"`
	Number    int       `json:"number"`
	RunID     string    `json:"runId"`
	CommentID int64     `json:"commentId,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats describes a store's contents.
type Stats struct {
	Backend    string `json:"backend"`
	Location   string `json:"location"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes,omitempty"`
	Expired    int    `json:"expired,omitempty"`
}

// Store persists ledger entries.
type Store interface {
	// Seen reports whether key was recorded and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Record stores e under key.
	Record(ctx context.Context, key string, e Entry) error
	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Key derives the ledger key for a review of diff on repo#number.
func Key(repo string, number int, diff string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d\x00%s", repo, number, diff)))
	return fmt.Sprintf("%x", h)
}

// Config selects and configures a backend.
type Config struct {
	Enabled bool
	Backend string
	Dir     string
	TTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open returns the Store described by cfg. A disabled ledger is a no-op
// store.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	switch cfg.Backend {
	case "", "file":
		s, err := NewFileStore(cfg.Dir, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.TTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Backend)
	}
}

// Disabled is a Store that never remembers anything.
type Disabled struct{}

func (Disabled) Seen(context.Context, string) (bool, error)  { return false, nil }
func (Disabled) Record(context.Context, string, Entry) error { return nil }
func (Disabled) Clear(context.Context) (int, error)          { return 0, nil }
func (Disabled) Stats(context.Context) (Stats, error)        { return Stats{Backend: "disabled"}, nil }
func (Disabled) Close() error                                { return nil }
