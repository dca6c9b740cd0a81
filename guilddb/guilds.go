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
)

// DefaultPrefix is applied when a guild row is first created.
const DefaultPrefix = "!"

type GetOrCreateGuildParams struct {
	GuildID int64
	Name    string
	Prefix  string
}

const insertGuildIfAbsentQuery = `
INSERT INTO guilds (guild_id, name, prefix)
VALUES ($1, $2, $3)
ON CONFLICT (guild_id) DO NOTHING
`

const getGuildQuery = `
SELECT guild_id, name, prefix, pickup_channel_id, listen_channel_id, created_at, updated_at
FROM guilds
WHERE guild_id = $1
`

func (q *Queries) insertGuildIfAbsent(ctx context.Context, arg GetOrCreateGuildParams) error {
	_, err := q.db.Exec(ctx, insertGuildIfAbsentQuery, arg.GuildID, arg.Name, arg.Prefix)
	return err
}

// GetGuild fetches one guild row.
func (q *Queries) GetGuild(ctx context.Context, guildID int64) (Guild, error) {
	row := q.db.QueryRow(ctx, getGuildQuery, guildID)
	var g Guild
	err := row.Scan(&g.GuildID, &g.Name, &g.Prefix, &g.PickupChannelID, &g.ListenChannelID, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// GetOrCreateGuild reads the guild row, creating it in the same transaction
// when the guild is seen for the first time. An empty Prefix falls back to
// DefaultPrefix; an existing row keeps whatever prefix it has. The insert
// uses ON CONFLICT DO NOTHING, so two callers racing to create the same
// guild both end up reading the single surviving row.
func (store *Store) GetOrCreateGuild(ctx context.Context, arg GetOrCreateGuildParams) (Guild, error) {
	if arg.Prefix == "" {
		arg.Prefix = DefaultPrefix
	}
	var guild Guild
	err := store.execTx(ctx, func(s *Store) error {
		if err := s.insertGuildIfAbsent(ctx, arg); err != nil {
			return err
		}
		g, err := s.GetGuild(ctx, arg.GuildID)
		if err != nil {
			return err
		}
		guild = g
		return nil
	})
	if err != nil {
		return Guild{}, err
	}
	return guild, nil
}

type UpdateGuildChannelsParams struct {
	GuildID         int64
	PickupChannelID *int64
	ListenChannelID *int64
}

const updateGuildChannelsQuery = `
UPDATE guilds
SET pickup_channel_id = $2,
    listen_channel_id = $3,
    updated_at = now()
WHERE guild_id = $1
`

// UpdateGuildChannels updates the pickup/listen channel columns and reports
// whether a row was affected. A false return means the guild row vanished
// unexpectedly; the caller treats that as a store anomaly, not a validation
// failure.
func (q *Queries) UpdateGuildChannels(ctx context.Context, arg UpdateGuildChannelsParams) (bool, error) {
	tag, err := q.db.Exec(ctx, updateGuildChannelsQuery, arg.GuildID, arg.PickupChannelID, arg.ListenChannelID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
