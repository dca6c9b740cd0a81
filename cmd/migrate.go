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

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/pickuphq/pickupbot/guilddb/migrations"
	"github.com/pickuphq/pickupbot/internal/dbopen"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply guild database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		connectionString, err := dbopen.GetDatabaseURLFromEnv("GUILDDB")
		if err != nil {
			return fmt.Errorf("failed to get GUILDDB connection string: %w", err)
		}

		pool, err := pgxpool.New(ctx, connectionString)
		if err != nil {
			return fmt.Errorf("failed to create GUILDDB connection pool: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
			return fmt.Errorf("failed to run guilddb migrations: %w", err)
		}

		slog.Info("Guild database migrations applied")
		return nil
	},
}
