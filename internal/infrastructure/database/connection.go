// Package database wraps sqlx/lib-pq connection setup and
// golang-migrate schema migrations.
package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/saan-system/uprl-core/internal/infrastructure/config"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// Connection wraps sqlx.DB with pool configuration and health checks.
type Connection struct {
	DB  *sqlx.DB
	log logger.Logger
}

func NewConnection(cfg config.DatabaseConfig, log logger.Logger) (*Connection, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
		)
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info("database connection established")
	return &Connection{DB: db, log: log}, nil
}

func (c *Connection) Close() error {
	if c.DB == nil {
		return nil
	}
	c.log.Info("closing database connection")
	return c.DB.Close()
}

func (c *Connection) Health() error {
	if c.DB == nil {
		return fmt.Errorf("database connection is nil")
	}
	return c.DB.Ping()
}
