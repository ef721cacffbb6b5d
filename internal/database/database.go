// Package database opens connection pools and hands out the connections and
// transactions cursors run on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// Config describes how to reach the database and size its pool.
type Config struct {
	// DSN, when set, is passed to the driver as is and the connection
	// fields below are ignored.
	DSN string

	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string // postgis only

	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// DataSourceName renders cfg for the driver of d.
func DataSourceName(d core.Dialect, cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	switch d.DriverName() {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		mc.DBName = cfg.Database
		mc.ParseTime = true
		mc.Timeout = cfg.ConnectionTimeout
		return mc.FormatDSN(), nil
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.Username, cfg.Password),
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:   "/" + cfg.Database,
		}
		q := url.Values{}
		if cfg.SSLMode != "" {
			q.Set("sslmode", cfg.SSLMode)
		}
		if cfg.ConnectionTimeout > 0 {
			q.Set("connect_timeout", fmt.Sprintf("%d", int(cfg.ConnectionTimeout.Seconds())))
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	case "sqlite3":
		if cfg.Database == "" {
			return "", fmt.Errorf("sqlite needs a database file")
		}
		return cfg.Database, nil
	}
	return "", fmt.Errorf("no data source format for driver %s", d.DriverName())
}

// Open opens and pings a pool for d.
func Open(ctx context.Context, d core.Dialect, cfg Config) (*sql.DB, error) {
	dsn, err := DataSourceName(d, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
