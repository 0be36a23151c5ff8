package store

import (
	"database/sql"
	"fmt"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// queries carries every store query; it runs against either the raw
// connection or an open transaction depending on ext.
type queries struct {
	ext dbtx
}

// Tx exposes the full query surface inside one atomic transaction.
// Optimistic writers use it to commit an entity mutation and its queued
// operation as a single unit.
type Tx struct {
	queries
}

// WithTx runs fn inside a transaction. Any error from fn rolls the whole
// transaction back, so an entity write and its operation enqueue either
// both commit or neither does.
func (db *DB) WithTx(fn func(tx *Tx) error) error {
	sqltx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{queries{ext: sqltx}}); err != nil {
		_ = sqltx.Rollback()
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
