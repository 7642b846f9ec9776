package main

import (
	"database/sql"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
)

// newDB opens a pgx connection pool with a bounded retry loop so the
// CLI survives a database that is still coming up.
func newDB(conf *config) (*sql.DB, error) {
	var db *sql.DB

	err := retry.Do(
		func() error {
			var err error
			db, err = sql.Open("pgx", conf.DB.ConnString)
			if err != nil {
				return err
			}
			return db.Ping()
		},
		retry.Attempts(conf.DB.ConnectRetries+1),
		retry.Delay(500*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("database connect attempt %d failed: %s", n+1, err)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	db.SetMaxIdleConns(conf.DB.PoolSize)
	db.SetMaxOpenConns(conf.DB.MaxConnections)
	db.SetConnMaxIdleTime(conf.DB.MaxConnIdleTime)
	db.SetConnMaxLifetime(conf.DB.MaxConnLifeTime)
	return db, nil
}
