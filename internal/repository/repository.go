// Package repository is the Postgres implementation of the ledger, catalog and
// reorder stores. Writes go through pgx transactions; list endpoints read
// through sqlx.
package repository

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
	now  func() time.Time
}

func New(pool *pgxpool.Pool, db *sqlx.DB) *Repository {
	return &Repository{pool: pool, db: db, now: time.Now}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
