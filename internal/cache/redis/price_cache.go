package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// priceKey returns the hash key holding one market's live price.
func priceKey(marketID string) string {
	return "price:" + marketID
}

// priceTTL bounds staleness. An ingestion stall leaves keys to expire rather
// than serving hours-old prices as live.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceSource and domain.PriceWriter on Redis
// hashes, one hash per market with price and ts fields.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache on the given client.
func NewPriceCache(client *Client) *PriceCache {
	return &PriceCache{rdb: client.rdb}
}

// SetPrice stores one market's raw YES price.
func (c *PriceCache) SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error {
	key := priceKey(marketID)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"price", strconv.FormatFloat(price, 'f', -1, 64),
		"ts", strconv.FormatInt(ts.UnixMilli(), 10),
	)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", marketID, err)
	}
	return nil
}

// GetPrice reads one market's live YES price. A missing key reports
// ok=false, not an error.
func (c *PriceCache) GetPrice(ctx context.Context, marketID string) (float64, bool, error) {
	raw, err := c.rdb.HGet(ctx, priceKey(marketID), "price").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get price %s: %w", marketID, err)
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse price %s: %w", marketID, err)
	}
	return price, true, nil
}

// GetPrices batch-fetches prices for many markets in a single pipelined
// round trip. Markets with no cached price are omitted from the result.
func (c *PriceCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(marketIDs))
	if len(marketIDs) == 0 {
		return out, nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(marketIDs))
	for i, id := range marketIDs {
		cmds[i] = pipe.HGet(ctx, priceKey(id), "price")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: batch get prices: %w", err)
	}

	for i, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: batch get price %s: %w", marketIDs[i], err)
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: parse price %s: %w", marketIDs[i], err)
		}
		out[marketIDs[i]] = price
	}
	return out, nil
}
