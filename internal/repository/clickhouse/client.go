package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/config"
)

// Client wraps the ClickHouse connection used for the raw event log and the
// rollup store.
type Client struct {
	connection driver.Conn
	config     config.ClickHouse
	log        *zap.Logger
}

// NewClient connects to ClickHouse with the given configuration.
func NewClient(ctx context.Context, cfg config.ClickHouse, log *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	log.Info("Connecting to ClickHouse",
		zap.String("addr", addr),
		zap.String("database", cfg.Database),
		zap.Bool("use_tls", cfg.UseTLS))

	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: false}
	}

	connection, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		TLS:              tlsConfig,
		DialTimeout:      5 * time.Second,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  time.Duration(cfg.ConnMaxLifetime) * time.Second,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		BlockBufferSize:  10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := connection.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("ClickHouse connection established")

	return &Client{connection: connection, config: cfg, log: log}, nil
}

// Conn returns the underlying ClickHouse connection.
func (c *Client) Conn() driver.Conn {
	return c.connection
}

// Close closes the ClickHouse connection.
func (c *Client) Close() error {
	if err := c.connection.Close(); err != nil {
		c.log.Error("Error closing ClickHouse connection", zap.Error(err))
		return err
	}
	return nil
}
