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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pickuphq/pickupbot/config"
	"github.com/pickuphq/pickupbot/guilddb"
	"github.com/pickuphq/pickupbot/internal/accesscontrol"
	"github.com/pickuphq/pickupbot/internal/bot"
	"github.com/pickuphq/pickupbot/internal/guildstate"
	"github.com/pickuphq/pickupbot/internal/lifecycle"
	"github.com/pickuphq/pickupbot/internal/logctx"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the guild configuration service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logctx.WithLogger(ctx, logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := guilddb.GuildDBStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		manager := guildstate.NewManager(store, cfg.Bot.DefaultPrefix)
		evaluator := accesscontrol.NewEvaluator(manager)
		hooks := lifecycle.NewHooks(manager)

		validCommands, err := store.ListGatedCommands(ctx)
		if err != nil {
			return err
		}

		// Presence events from the gateway drive the lifecycle hooks, and
		// command dispatch consults the evaluator before executing anything.
		session, err := bot.New(cfg.Bot.Token, hooks, evaluator, manager, validCommands)
		if err != nil {
			return err
		}
		if err := session.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := session.Close(); err != nil {
				logger.Error("Closing gateway session failed", slog.Any("error", err))
			}
		}()

		logger.Info("Guild configuration service running")
		<-ctx.Done()
		logger.Info("Shutting down")
		return nil
	},
}
