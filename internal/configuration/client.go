// Package configuration reads and writes the configuration items of one unit
// in the shared store. Loading a unit from, or saving it to, durable storage
// is done by an external configuration service; this package only signals it.
package configuration

import (
	"context"
	"errors"
	"fmt"

	"github.com/CZERTAINLY/Courier/internal/channel"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb  redis.Cmdable
	unit string
}

func NewClient(unit string, rdb redis.Cmdable) *Client {
	return &Client{rdb: rdb, unit: unit}
}

func (c *Client) Unit() string {
	return c.unit
}

// Get returns the value of item. The boolean is false when the item is not set.
func (c *Client) Get(ctx context.Context, item string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, channel.ConfigurationKey(c.unit, item)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("getting configuration %s/%s: %w", c.unit, item, err)
	}
	return value, true, nil
}

// Scan decodes the value of item into dst (a pointer to a string, bool,
// integer or float, or an encoding.BinaryUnmarshaler). It reports false
// when the item is not set.
func (c *Client) Scan(ctx context.Context, item string, dst any) (bool, error) {
	err := c.rdb.Get(ctx, channel.ConfigurationKey(c.unit, item)).Scan(dst)
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("decoding configuration %s/%s: %w", c.unit, item, err)
	}
	return true, nil
}

func (c *Client) Set(ctx context.Context, item string, value any) error {
	if err := c.rdb.Set(ctx, channel.ConfigurationKey(c.unit, item), value, 0).Err(); err != nil {
		return fmt.Errorf("setting configuration %s/%s: %w", c.unit, item, err)
	}
	return nil
}

// Reload asks the configuration service to load this unit into the store.
func (c *Client) Reload(ctx context.Context) error {
	return c.signal(ctx, channel.ConfigurationLoad)
}

// Apply asks the configuration service to persist this unit from the store.
func (c *Client) Apply(ctx context.Context) error {
	return c.signal(ctx, channel.ConfigurationSave)
}

func (c *Client) signal(ctx context.Context, ch string) error {
	if err := c.rdb.Publish(ctx, ch, c.unit).Err(); err != nil {
		return fmt.Errorf("publishing %s for %s: %w", ch, c.unit, err)
	}
	return nil
}
