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

// Package bot is the thin adapter between the Discord gateway and the guild
// state core. It translates presence events into lifecycle hook calls and
// exposes the access-control gate to the command layer. No command handlers
// live here.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/pickuphq/pickupbot/internal/accesscontrol"
	"github.com/pickuphq/pickupbot/internal/guildstate"
	"github.com/pickuphq/pickupbot/internal/lifecycle"
	"github.com/pickuphq/pickupbot/internal/logctx"
)

// Bot owns the gateway session and the core wiring.
type Bot struct {
	session   *discordgo.Session
	hooks     *lifecycle.Hooks
	evaluator *accesscontrol.Evaluator
	manager   *guildstate.Manager

	// validCommands is the closed set of gated command names, loaded once
	// at startup and passed as the allowlist into permission mutations.
	validCommands []string

	ctx context.Context
}

// New creates a bot for the given token. The session is not opened yet.
func New(token string, hooks *lifecycle.Hooks, evaluator *accesscontrol.Evaluator, manager *guildstate.Manager, validCommands []string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	b := &Bot{
		session:       session,
		hooks:         hooks,
		evaluator:     evaluator,
		manager:       manager,
		validCommands: validCommands,
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onGuildDelete)
	return b, nil
}

// Start opens the gateway connection. Events arriving after this point are
// dispatched on the session's goroutines.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close shuts the gateway connection down.
func (b *Bot) Close() error {
	return b.session.Close()
}

// Evaluator returns the access-control gate for the command layer.
func (b *Bot) Evaluator() *accesscontrol.Evaluator {
	return b.evaluator
}

// Manager returns the guild state manager for the command layer.
func (b *Bot) Manager() *guildstate.Manager {
	return b.manager
}

// ValidCommands returns the gated command allowlist.
func (b *Bot) ValidCommands() []string {
	return b.validCommands
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	guilds := make([]guildstate.GuildInfo, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		id, err := parseSnowflake(g.ID)
		if err != nil {
			logctx.FromContext(b.ctx).Error("Skipping guild with bad id", slog.String("id", g.ID))
			continue
		}
		guilds = append(guilds, guildstate.GuildInfo{GuildID: id, Name: g.Name})
	}
	if err := b.hooks.SessionReady(b.ctx, guilds); err != nil {
		logctx.FromContext(b.ctx).Error("Session ready registration failed", slog.Any("error", err))
	}
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	id, err := parseSnowflake(g.ID)
	if err != nil {
		logctx.FromContext(b.ctx).Error("Skipping guild with bad id", slog.String("id", g.ID))
		return
	}
	if err := b.hooks.GuildAvailable(b.ctx, id, g.Name); err != nil {
		logctx.FromContext(b.ctx).Error("Guild registration failed",
			slog.Int64("guild_id", id), slog.Any("error", err))
	}
}

func (b *Bot) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	// An unavailable guild is an outage, not a removal; keep its state.
	if g.Unavailable {
		return
	}
	id, err := parseSnowflake(g.ID)
	if err != nil {
		return
	}
	b.hooks.GuildRemoved(b.ctx, id)
}

func parseSnowflake(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}
