package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/compare_and_set.lua
var compareAndSetScript string

//go:embed scripts/release_status.lua
var releaseStatusScript string

// CASResult is the outcome of a status compare-and-set
type CASResult int

const (
	CASMissing  CASResult = -1 // product not mirrored in Redis
	CASMismatch CASResult = 0
	CASSwapped  CASResult = 1
)

type Client struct {
	rdb           *redis.Client
	casScript     *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb), nil
}

// Wrap builds a Client around an existing connection
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		casScript:     redis.NewScript(compareAndSetScript),
		releaseScript: redis.NewScript(releaseStatusScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func statusKey(productID string) string {
	return fmt.Sprintf("product:%s:status", productID)
}

// CompareAndSetStatus atomically swaps a product's mirrored status from `from` to `to`
func (c *Client) CompareAndSetStatus(ctx context.Context, productID string, from, to models.ProductStatus) (CASResult, error) {
	result, err := c.casScript.Run(ctx, c.rdb, []string{statusKey(productID)}, string(from), string(to)).Result()
	if err != nil {
		return CASMismatch, fmt.Errorf("compare-and-set script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return CASMismatch, fmt.Errorf("unexpected script result type")
	}

	return CASResult(n), nil
}

// ReleaseStatus atomically moves a mirrored status from Sold back to Available
func (c *Client) ReleaseStatus(ctx context.Context, productID string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{statusKey(productID)},
		string(models.ProductSold), string(models.ProductAvailable)).Result()
	if err != nil {
		return fmt.Errorf("release script failed: %w", err)
	}
	return nil
}

// SetStatus overwrites the mirrored status with the authoritative value
func (c *Client) SetStatus(ctx context.Context, productID string, status models.ProductStatus) error {
	return c.rdb.Set(ctx, statusKey(productID), string(status), 0).Err()
}

// GetStatus returns the mirrored status, or "" when the product is not mirrored
func (c *Client) GetStatus(ctx context.Context, productID string) (models.ProductStatus, error) {
	val, err := c.rdb.Get(ctx, statusKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return models.ProductStatus(val), nil
}
