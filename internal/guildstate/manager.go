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

package guildstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pickuphq/pickupbot/guilddb"
	"github.com/pickuphq/pickupbot/internal/logctx"
)

// ErrGuildNotCached is returned when state is requested for a guild that was
// never registered or has been evicted. It is never silently defaulted: a
// missing entry after lifecycle registration means an ordering bug upstream.
var ErrGuildNotCached = errors.New("guild not cached")

const (
	channelsEqualError  = "Pickup and Listen channel should differ from each other."
	databaseUpdateError = "Something went wrong updating the database."
)

// ConfigUpdateResult reports the outcome of a guild config update. OK false
// with a non-empty Error is an expected, user-triggerable condition, not a
// failure of the call itself.
type ConfigUpdateResult struct {
	OK       bool
	Settings *GuildSettings
	Error    string
}

// Store is the database interface required by the manager. *guilddb.Store
// satisfies it.
type Store interface {
	GetOrCreateGuild(ctx context.Context, arg guilddb.GetOrCreateGuildParams) (guilddb.Guild, error)
	UpdateGuildChannels(ctx context.Context, arg guilddb.UpdateGuildChannelsParams) (bool, error)
	GetRolePermissions(ctx context.Context, guildID int64) (map[int64][]string, error)
	AddRolePermissions(ctx context.Context, arg guilddb.AddRolePermissionsParams) error
	RemoveRolePermissions(ctx context.Context, arg guilddb.RemoveRolePermissionsParams) ([]string, error)
	RemoveElevatedRoles(ctx context.Context, guildID int64, roleIDs []int64) error
}

// Manager orchestrates the cache and the store: read-through population,
// write-through updates, and at most one in-flight mutation per guild.
//
// Every mutation follows the same protocol: a fast pre-check against the
// current snapshot outside any lock, acquire the guild's lock, re-validate
// against the latest snapshot, perform the store write, then build a new
// snapshot and swap it into the cache in one step. Reads never take the
// guild lock.
type Manager struct {
	cache *Cache
	store Store

	// defaultPrefix is applied when a guild row is first created.
	defaultPrefix string

	// locks holds one *sync.Mutex per guild, created lazily and never
	// reclaimed. Bounded by guild cardinality.
	locks sync.Map
}

// NewManager creates a manager with an empty cache. An empty defaultPrefix
// falls back to the store default.
func NewManager(store Store, defaultPrefix string) *Manager {
	if defaultPrefix == "" {
		defaultPrefix = guilddb.DefaultPrefix
	}
	return &Manager{
		cache:         NewCache(),
		store:         store,
		defaultPrefix: defaultPrefix,
	}
}

func (m *Manager) lockFor(guildID int64) *sync.Mutex {
	if l, ok := m.locks.Load(guildID); ok {
		return l.(*sync.Mutex)
	}
	l, _ := m.locks.LoadOrStore(guildID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// GetGuildState returns the cached snapshot for a guild.
func (m *Manager) GetGuildState(guildID int64) (GuildState, error) {
	state, ok := m.cache.Get(guildID)
	if !ok {
		return GuildState{}, fmt.Errorf("guild %d: %w", guildID, ErrGuildNotCached)
	}
	return state, nil
}

// RegisterGuild loads and caches guild state if necessary. Settings and role
// permissions are read through from the store; a guild without a row gets
// one created with default settings. Registering an already cached guild is
// a no-op.
func (m *Manager) RegisterGuild(ctx context.Context, info GuildInfo) error {
	if _, ok := m.cache.Get(info.GuildID); ok {
		return nil
	}

	mu := m.lockFor(info.GuildID)
	mu.Lock()
	defer mu.Unlock()

	if _, ok := m.cache.Get(info.GuildID); ok {
		return nil
	}

	guild, err := m.store.GetOrCreateGuild(ctx, guilddb.GetOrCreateGuildParams{
		GuildID: info.GuildID,
		Name:    info.Name,
		Prefix:  m.defaultPrefix,
	})
	if err != nil {
		return fmt.Errorf("fetch guild settings: %w", err)
	}

	grants, err := m.store.GetRolePermissions(ctx, info.GuildID)
	if err != nil {
		return fmt.Errorf("fetch role permissions: %w", err)
	}

	perms := make(map[int64]mapset.Set[string], len(grants))
	for roleID, names := range grants {
		perms[roleID] = mapset.NewSet(names...)
	}

	m.cache.Set(info.GuildID, GuildState{
		Settings: GuildSettings{
			GuildID:         guild.GuildID,
			Prefix:          guild.Prefix,
			PickupChannelID: guild.PickupChannelID,
			ListenChannelID: guild.ListenChannelID,
		},
		RoleCommandPermissions: perms,
	})

	logctx.FromContext(ctx).Info("Registered guild",
		slog.Int64("guild_id", info.GuildID),
		slog.Int("elevated_roles", len(perms)))
	return nil
}

// RegisterGuilds registers every guild in order, stopping at the first error.
func (m *Manager) RegisterGuilds(ctx context.Context, guilds []GuildInfo) error {
	for _, info := range guilds {
		if err := m.RegisterGuild(ctx, info); err != nil {
			return fmt.Errorf("register guild %d: %w", info.GuildID, err)
		}
	}
	return nil
}

// UpdateGuildConfig updates the pickup/listen channels in the database and
// the cache. The guild must already be cached; config updates never
// auto-register. Equal pickup and listen channels are rejected before the
// lock or the store is touched.
func (m *Manager) UpdateGuildConfig(ctx context.Context, settings GuildSettings) (ConfigUpdateResult, error) {
	if _, ok := m.cache.Get(settings.GuildID); !ok {
		return ConfigUpdateResult{}, fmt.Errorf("guild %d: %w", settings.GuildID, ErrGuildNotCached)
	}

	if settings.PickupChannelID != nil && settings.ListenChannelID != nil &&
		*settings.PickupChannelID == *settings.ListenChannelID {
		return ConfigUpdateResult{OK: false, Error: channelsEqualError}, nil
	}

	mu := m.lockFor(settings.GuildID)
	mu.Lock()
	defer mu.Unlock()

	curr, ok := m.cache.Get(settings.GuildID)
	if !ok {
		return ConfigUpdateResult{}, fmt.Errorf("guild %d: %w", settings.GuildID, ErrGuildNotCached)
	}

	updated, err := m.store.UpdateGuildChannels(ctx, guilddb.UpdateGuildChannelsParams{
		GuildID:         settings.GuildID,
		PickupChannelID: settings.PickupChannelID,
		ListenChannelID: settings.ListenChannelID,
	})
	if err != nil {
		return ConfigUpdateResult{}, fmt.Errorf("update guild channels: %w", err)
	}
	if !updated {
		// The row should always exist for a cached guild. Leave the cache
		// untouched and report the anomaly.
		logctx.FromContext(ctx).Error("Guild row missing during config update",
			slog.Int64("guild_id", settings.GuildID))
		return ConfigUpdateResult{OK: false, Error: databaseUpdateError}, nil
	}

	newState := curr.withChannels(settings.PickupChannelID, settings.ListenChannelID)
	m.cache.Set(settings.GuildID, newState)

	newSettings := newState.Settings
	return ConfigUpdateResult{OK: true, Settings: &newSettings}, nil
}

// AddRolePermissions grants command permissions to a role. Requested names
// are filtered to the valid allowlist; names the role already holds are
// skipped. Returns the names actually inserted, which is empty when there
// was nothing to do (no error, and no store write).
func (m *Manager) AddRolePermissions(ctx context.Context, guildID, roleID int64, commandNames, validCommandNames []string) ([]string, error) {
	state, ok := m.cache.Get(guildID)
	if !ok {
		return nil, fmt.Errorf("guild %d: %w", guildID, ErrGuildNotCached)
	}

	if missing := missingGrants(commandNames, validCommandNames, state.roleGrants(roleID)); len(missing) == 0 {
		return nil, nil
	}

	mu := m.lockFor(guildID)
	mu.Lock()
	defer mu.Unlock()

	state, ok = m.cache.Get(guildID)
	if !ok {
		return nil, fmt.Errorf("guild %d: %w", guildID, ErrGuildNotCached)
	}

	curr := state.roleGrants(roleID)
	missing := missingGrants(commandNames, validCommandNames, curr)
	if len(missing) == 0 {
		return nil, nil
	}

	if err := m.store.AddRolePermissions(ctx, guilddb.AddRolePermissionsParams{
		GuildID:  guildID,
		RoleID:   roleID,
		Commands: missing,
	}); err != nil {
		return nil, fmt.Errorf("add role permissions: %w", err)
	}

	var grants mapset.Set[string]
	if curr != nil {
		grants = curr.Clone()
	} else {
		grants = mapset.NewSet[string]()
	}
	grants.Append(missing...)

	m.cache.Set(guildID, state.withRoleGrants(roleID, grants))
	return missing, nil
}

// RemoveRolePermissions revokes command permissions from a role. Requested
// names are filtered to the valid allowlist and intersected with the role's
// current grants. Returns the names the store actually deleted, which is
// empty when there was nothing to do (no error, and no store write).
func (m *Manager) RemoveRolePermissions(ctx context.Context, guildID, roleID int64, commandNames, validCommandNames []string) ([]string, error) {
	state, ok := m.cache.Get(guildID)
	if !ok {
		return nil, fmt.Errorf("guild %d: %w", guildID, ErrGuildNotCached)
	}

	if held := heldGrants(commandNames, validCommandNames, state.roleGrants(roleID)); len(held) == 0 {
		return nil, nil
	}

	mu := m.lockFor(guildID)
	mu.Lock()
	defer mu.Unlock()

	state, ok = m.cache.Get(guildID)
	if !ok {
		return nil, fmt.Errorf("guild %d: %w", guildID, ErrGuildNotCached)
	}

	curr := state.roleGrants(roleID)
	held := heldGrants(commandNames, validCommandNames, curr)
	if len(held) == 0 {
		return nil, nil
	}

	removed, err := m.store.RemoveRolePermissions(ctx, guilddb.RemoveRolePermissionsParams{
		GuildID:  guildID,
		RoleID:   roleID,
		Commands: held,
	})
	if err != nil {
		return nil, fmt.Errorf("remove role permissions: %w", err)
	}

	grants := curr.Clone()
	grants.RemoveAll(removed...)

	m.cache.Set(guildID, state.withRoleGrants(roleID, grants))
	return removed, nil
}

// RemoveElevatedRoles deletes every grant for the given roles and drops
// their entries from the cached mapping. Roles without cached grants are
// skipped; if none of the roles have grants, nothing is written.
func (m *Manager) RemoveElevatedRoles(ctx context.Context, guildID int64, roleIDs []int64) error {
	state, ok := m.cache.Get(guildID)
	if !ok {
		return fmt.Errorf("guild %d: %w", guildID, ErrGuildNotCached)
	}

	if len(elevatedOf(state, roleIDs)) == 0 {
		return nil
	}

	mu := m.lockFor(guildID)
	mu.Lock()
	defer mu.Unlock()

	state, ok = m.cache.Get(guildID)
	if !ok {
		return fmt.Errorf("guild %d: %w", guildID, ErrGuildNotCached)
	}

	affected := elevatedOf(state, roleIDs)
	if len(affected) == 0 {
		return nil
	}

	if err := m.store.RemoveElevatedRoles(ctx, guildID, affected); err != nil {
		return fmt.Errorf("remove elevated roles: %w", err)
	}

	m.cache.Set(guildID, state.withoutRoles(affected))

	logctx.FromContext(ctx).Info("Removed elevated roles",
		slog.Int64("guild_id", guildID),
		slog.Int("roles", len(affected)))
	return nil
}

// EvictGuild drops the guild's snapshot from the cache. The store row is
// retained. Evicting an unknown guild is a no-op.
func (m *Manager) EvictGuild(guildID int64) {
	mu := m.lockFor(guildID)
	mu.Lock()
	defer mu.Unlock()

	m.cache.Delete(guildID)
}

// missingGrants filters names to the allowlist and returns, in request
// order and deduplicated, those not yet present in the role's grants.
func missingGrants(names, validNames []string, grants mapset.Set[string]) []string {
	valid := mapset.NewThreadUnsafeSet(validNames...)
	seen := mapset.NewThreadUnsafeSet[string]()

	var missing []string
	for _, name := range names {
		if !valid.Contains(name) || !seen.Add(name) {
			continue
		}
		if grants != nil && grants.Contains(name) {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}

// heldGrants filters names to the allowlist and returns, in request order
// and deduplicated, those currently present in the role's grants.
func heldGrants(names, validNames []string, grants mapset.Set[string]) []string {
	if grants == nil {
		return nil
	}
	valid := mapset.NewThreadUnsafeSet(validNames...)
	seen := mapset.NewThreadUnsafeSet[string]()

	var held []string
	for _, name := range names {
		if !valid.Contains(name) || !seen.Add(name) {
			continue
		}
		if grants.Contains(name) {
			held = append(held, name)
		}
	}
	return held
}

// elevatedOf returns the subset of roleIDs that have cached grants.
func elevatedOf(state GuildState, roleIDs []int64) []int64 {
	var affected []int64
	for _, roleID := range roleIDs {
		if _, ok := state.RoleCommandPermissions[roleID]; ok {
			affected = append(affected, roleID)
		}
	}
	return affected
}
