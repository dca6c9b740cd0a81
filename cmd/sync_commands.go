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
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pickuphq/pickupbot/guilddb"
)

var syncCommandNames []string

func init() {
	syncCommandsCmd.Flags().StringSliceVar(&syncCommandNames, "command", nil, "gated command name (repeatable)")
	rootCmd.AddCommand(syncCommandsCmd)
}

var syncCommandsCmd = &cobra.Command{
	Use:   "sync-commands",
	Short: "Seed the gated command table",
	Long:  `Upserts gated command names into the permissions table. Grant rows reference this closed set; names removed from the set are kept so existing grants stay intact.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(syncCommandNames) == 0 {
			return errors.New("at least one --command is required")
		}

		ctx := cmd.Context()
		store, err := guilddb.GuildDBStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SyncGatedCommands(ctx, syncCommandNames); err != nil {
			return err
		}

		slog.Info("Synced gated commands", slog.Int("count", len(syncCommandNames)))
		return nil
	},
}
