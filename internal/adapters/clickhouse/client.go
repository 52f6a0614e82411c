package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"sleepdx/internal/adapters/config"
	"sleepdx/pkg/errors"
)

// Client owns the ClickHouse connection used by the prediction audit log
type Client struct {
	conn     driver.Conn
	database string
}

// NewClient connects and pings. The audit log writes small batches from a
// single flusher, so the pool is kept small.
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:  5 * time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to clickhouse")
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "failed to ping clickhouse %s:%d", cfg.Host, cfg.Port)
	}

	return &Client{conn: conn, database: cfg.Database}, nil
}

// Conn returns the underlying connection for repositories
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Database returns the configured database name
func (c *Client) Database() string {
	return c.database
}

// Health pings ClickHouse; used by /ready
func (c *Client) Health(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return errors.Wrap(errors.ErrUnavailable, err.Error())
	}
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
