// Copyright (C) 2025-2026 PickupHQ
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package guilddb is the sole component that talks to the backing Postgres
// store. Every exported call is one autonomous transaction; the package owns
// no guild state cache of its own.
package guilddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jellydator/ttlcache/v3"
)

// DBTX is the subset of pgx shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries executes individual statements against a pool or transaction.
type Queries struct {
	db DBTX
}

// New creates Queries bound to the given connection source.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Store provides all functions to execute db queries and transactions
type Store struct {
	*Queries
	connPool          *pgxpool.Pool
	gatedCommandCache *ttlcache.Cache[string, gatedCommandCacheValue]
}

// NewStore creates a new Store
func NewStore(connPool *pgxpool.Pool) *Store {
	store := &Store{
		Queries:  New(connPool),
		connPool: connPool,
		gatedCommandCache: ttlcache.New(
			ttlcache.WithTTL[string, gatedCommandCacheValue](5 * time.Minute),
		),
	}
	go store.gatedCommandCache.Start()
	return store
}

func (store *Store) Pool() *pgxpool.Pool {
	return store.connPool
}

// Close stops the background cache goroutine and closes the connection pool.
func (store *Store) Close() {
	store.gatedCommandCache.Stop()
	if store.connPool != nil {
		store.connPool.Close()
	}
}

func (store *Store) execTx(ctx context.Context, fn func(*Store) error) (err error) {
	tx, err := store.connPool.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Use a timeout to prevent infinite hangs during cleanup.
		// Never use the caller ctx for cleanup as it may be cancelled.
		rbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			if err != nil {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			} else {
				err = fmt.Errorf("rollback failed: %w", rbErr)
			}
		}
	}()

	txStore := &Store{
		Queries:           New(tx),
		connPool:          store.connPool,
		gatedCommandCache: store.gatedCommandCache,
	}

	if err = fn(txStore); err != nil {
		return err
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = tx.Commit(commitCtx); err != nil {
		return err
	}
	committed = true
	return nil
}
