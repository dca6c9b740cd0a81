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

package guilddb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pickuphq/pickupbot/guilddb/migrations"
	"github.com/pickuphq/pickupbot/internal/dbopen"
)

// ConnectToGuildDB opens a connection pool from GUILDDB_* environment
// variables and verifies the schema is at the expected migration version.
func ConnectToGuildDB(ctx context.Context) (*pgxpool.Pool, error) {
	connectionString, err := dbopen.GetDatabaseURLFromEnv("GUILDDB")
	if err != nil {
		return nil, errors.Join(dbopen.ErrDatabaseNotConfigured, fmt.Errorf("failed to get GUILDDB connection string: %w", err))
	}

	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create GUILDDB connection pool: %w", err)
	}

	if err := migrations.CheckExpectedVersion(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("GUILDDB migration version check failed: %w", err)
	}

	return pool, nil
}

// GuildDBStore connects to the guild database and wraps the pool in a Store.
func GuildDBStore(ctx context.Context) (*Store, error) {
	pool, err := ConnectToGuildDB(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}
