package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ReadTx is a read transaction handle. A WriteTx is also a ReadTx.
type ReadTx interface {
	ext() sqlx.ExtContext
}

// WriteTx is the write transaction handle required by every mutation. At most
// one WriteTx is open per Store at a time.
type WriteTx interface {
	ReadTx
	writable()
}

type readTx struct {
	tx *sqlx.Tx
}

func (t readTx) ext() sqlx.ExtContext { return t.tx }

type writeTx struct {
	readTx
}

func (writeTx) writable() {}

// Read runs fn in a transaction that is always rolled back. Reads may run
// concurrently with each other and with the active writer; they observe only
// committed state.
func (s *Store) Read(ctx context.Context, fn func(tx ReadTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	return fn(readTx{tx: tx})
}

// Write runs fn in the single write transaction and commits when fn returns
// nil. Any error rolls back everything fn did.
func (s *Store) Write(ctx context.Context, fn func(tx WriteTx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(writeTx{readTx{tx: tx}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
