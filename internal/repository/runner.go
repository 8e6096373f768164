package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// TxRunner runs a function inside a transaction carried on the context, so
// every repository call within the function shares one atomic commit.
type TxRunner struct {
	db *sql.DB
}

// NewTxRunner creates a transaction runner over db.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx begins a transaction, threads it through the context, and commits
// when fn succeeds. Any error rolls the whole transaction back.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
