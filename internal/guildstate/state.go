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

// Package guildstate keeps an in-memory authoritative copy of each guild's
// settings and role-permission grants, serializing mutations per guild while
// answering synchronous reads for the command-dispatch hot path.
package guildstate

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// GuildInfo identifies a guild as reported by the platform session.
type GuildInfo struct {
	GuildID int64
	Name    string
}

// GuildSettings holds the frequently read per-guild configuration. Channel
// ids are nil until an admin configures them.
type GuildSettings struct {
	GuildID         int64
	Prefix          string
	PickupChannelID *int64
	ListenChannelID *int64
}

// GuildState is the cached snapshot for one guild.
//
// Snapshots are immutable by convention: a mutation builds a new GuildState
// through the with* helpers and the manager replaces the cache entry in a
// single step, so a concurrent reader observes either the old or the new
// snapshot, never a partially updated one. Grant sets reachable from a
// cached snapshot must never be modified in place.
type GuildState struct {
	Settings GuildSettings

	// RoleCommandPermissions maps a role id to the command names that role
	// may invoke. A role id is present only while it has at least one grant.
	RoleCommandPermissions map[int64]mapset.Set[string]
}

// roleGrants returns the grant set for a role, or nil if the role has none.
func (s GuildState) roleGrants(roleID int64) mapset.Set[string] {
	return s.RoleCommandPermissions[roleID]
}

// withChannels returns a copy of the state with the pickup and listen
// channel ids replaced.
func (s GuildState) withChannels(pickupChannelID, listenChannelID *int64) GuildState {
	settings := s.Settings
	settings.PickupChannelID = pickupChannelID
	settings.ListenChannelID = listenChannelID
	return GuildState{
		Settings:               settings,
		RoleCommandPermissions: s.RoleCommandPermissions,
	}
}

// withRoleGrants returns a copy of the state with the grant set for one role
// replaced. The permissions map is copied; unaffected grant sets are shared
// with the previous snapshot, which is safe because they are never mutated.
func (s GuildState) withRoleGrants(roleID int64, grants mapset.Set[string]) GuildState {
	perms := make(map[int64]mapset.Set[string], len(s.RoleCommandPermissions)+1)
	for id, set := range s.RoleCommandPermissions {
		perms[id] = set
	}
	if grants == nil || grants.Cardinality() == 0 {
		delete(perms, roleID)
	} else {
		perms[roleID] = grants
	}
	return GuildState{
		Settings:               s.Settings,
		RoleCommandPermissions: perms,
	}
}

// withoutRoles returns a copy of the state with the given role entries
// removed from the permissions map entirely.
func (s GuildState) withoutRoles(roleIDs []int64) GuildState {
	drop := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		drop[id] = struct{}{}
	}
	perms := make(map[int64]mapset.Set[string], len(s.RoleCommandPermissions))
	for id, set := range s.RoleCommandPermissions {
		if _, gone := drop[id]; !gone {
			perms[id] = set
		}
	}
	return GuildState{
		Settings:               s.Settings,
		RoleCommandPermissions: perms,
	}
}
