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

// Package lifecycle maps platform presence events onto guild registration
// and eviction.
package lifecycle

import (
	"context"

	"github.com/pickuphq/pickupbot/internal/guildstate"
	"github.com/pickuphq/pickupbot/internal/logctx"
)

// Registrar is the subset of the guild state manager the hooks drive.
type Registrar interface {
	RegisterGuild(ctx context.Context, info guildstate.GuildInfo) error
	RegisterGuilds(ctx context.Context, guilds []guildstate.GuildInfo) error
	EvictGuild(guildID int64)
}

// Hooks receives presence events from the platform session.
type Hooks struct {
	manager Registrar
}

// NewHooks creates hooks feeding the given registrar.
func NewHooks(manager Registrar) *Hooks {
	return &Hooks{manager: manager}
}

// GuildAvailable handles a guild becoming reachable after connect or outage.
func (h *Hooks) GuildAvailable(ctx context.Context, guildID int64, name string) error {
	ctx = logctx.WithGuild(ctx, guildID)
	return h.manager.RegisterGuild(ctx, guildstate.GuildInfo{GuildID: guildID, Name: name})
}

// GuildJoined handles the bot being added to a guild.
func (h *Hooks) GuildJoined(ctx context.Context, guildID int64, name string) error {
	ctx = logctx.WithGuild(ctx, guildID)
	return h.manager.RegisterGuild(ctx, guildstate.GuildInfo{GuildID: guildID, Name: name})
}

// GuildRemoved handles the bot being removed from a guild. Only the cached
// snapshot goes away; the database rows are retained.
func (h *Hooks) GuildRemoved(ctx context.Context, guildID int64) {
	h.manager.EvictGuild(guildID)
	logctx.FromContext(ctx).Info("Evicted guild", "guild_id", guildID)
}

// SessionReady registers every guild reported by the initial session
// snapshot.
func (h *Hooks) SessionReady(ctx context.Context, guilds []guildstate.GuildInfo) error {
	logctx.FromContext(ctx).Info("Registering guilds from session snapshot", "count", len(guilds))
	return h.manager.RegisterGuilds(ctx, guilds)
}
