package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propdesk/propdesk/internal/domain"
)

// bookKey returns the key holding one market's order book snapshot.
func bookKey(marketID string) string {
	return "book:" + marketID
}

// bookTTL matches priceTTL so books and prices go stale together.
const bookTTL = 10 * time.Minute

// BookCache implements domain.BookCache as JSON snapshots, one key per
// market.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache on the given client.
func NewBookCache(client *Client) *BookCache {
	return &BookCache{rdb: client.rdb}
}

// SetSnapshot stores the YES-side book for a market.
func (c *BookCache) SetSnapshot(ctx context.Context, marketID string, snap domain.BookSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", marketID, err)
	}
	if err := c.rdb.Set(ctx, bookKey(marketID), payload, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", marketID, err)
	}
	return nil
}

// GetSnapshot reads a market's cached book. A missing key reports ok=false,
// not an error; the executor then falls back to a synthetic book.
func (c *BookCache) GetSnapshot(ctx context.Context, marketID string) (domain.BookSnapshot, bool, error) {
	raw, err := c.rdb.Get(ctx, bookKey(marketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, false, nil
	}
	if err != nil {
		return domain.BookSnapshot{}, false, fmt.Errorf("redis: get book %s: %w", marketID, err)
	}

	var snap domain.BookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.BookSnapshot{}, false, fmt.Errorf("redis: unmarshal book %s: %w", marketID, err)
	}
	return snap, true, nil
}
