package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kadirbelkuyu/metacache/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const pingTimeout = 10 * time.Second

type Connection struct {
	DB     *sql.DB
	Config *config.Config
}

// NewConnection opens a pool with the configured driver and checks that the
// server is reachable.
func NewConnection(ctx context.Context, cfg *config.Config) (*Connection, error) {
	if !Linked(cfg.Database.Driver) {
		return nil, fmt.Errorf("driver %q for %s is not linked into this build", cfg.Database.Driver, cfg.Database.Type)
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	return &Connection{
		DB:     db,
		Config: cfg,
	}, nil
}

// Linked reports whether a database/sql driver is registered under name.
func Linked(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (c *Connection) Close() error {
	return c.DB.Close()
}

func (c *Connection) GetDatabaseName() string {
	return c.Config.Database.Name
}
