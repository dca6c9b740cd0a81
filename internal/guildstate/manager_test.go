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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pickuphq/pickupbot/guilddb"
)

type mockStore struct {
	mu sync.Mutex

	getOrCreateCalls    atomic.Int64
	getPermsCalls       atomic.Int64
	updateChannelsCalls atomic.Int64
	addPermsCalls       atomic.Int64
	removePermsCalls    atomic.Int64
	removeRolesCalls    atomic.Int64

	lastCreateParams guilddb.GetOrCreateGuildParams
	lastAddParams    guilddb.AddRolePermissionsParams
	lastRemoveParams guilddb.RemoveRolePermissionsParams
	lastRemovedRoles []int64

	getOrCreateFn    func(guilddb.GetOrCreateGuildParams) (guilddb.Guild, error)
	getPermsFn       func(int64) (map[int64][]string, error)
	updateChannelsFn func(guilddb.UpdateGuildChannelsParams) (bool, error)
	addPermsFn       func(guilddb.AddRolePermissionsParams) error
	removePermsFn    func(guilddb.RemoveRolePermissionsParams) ([]string, error)
	removeRolesFn    func(int64, []int64) error
}

func (s *mockStore) GetOrCreateGuild(_ context.Context, arg guilddb.GetOrCreateGuildParams) (guilddb.Guild, error) {
	s.getOrCreateCalls.Add(1)
	s.mu.Lock()
	s.lastCreateParams = arg
	s.mu.Unlock()
	if s.getOrCreateFn != nil {
		return s.getOrCreateFn(arg)
	}
	prefix := arg.Prefix
	if prefix == "" {
		prefix = guilddb.DefaultPrefix
	}
	return guilddb.Guild{
		GuildID: arg.GuildID,
		Name:    arg.Name,
		Prefix:  prefix,
	}, nil
}

func (s *mockStore) GetRolePermissions(_ context.Context, guildID int64) (map[int64][]string, error) {
	s.getPermsCalls.Add(1)
	if s.getPermsFn != nil {
		return s.getPermsFn(guildID)
	}
	return map[int64][]string{}, nil
}

func (s *mockStore) UpdateGuildChannels(_ context.Context, arg guilddb.UpdateGuildChannelsParams) (bool, error) {
	s.updateChannelsCalls.Add(1)
	if s.updateChannelsFn != nil {
		return s.updateChannelsFn(arg)
	}
	return true, nil
}

func (s *mockStore) AddRolePermissions(_ context.Context, arg guilddb.AddRolePermissionsParams) error {
	s.addPermsCalls.Add(1)
	s.mu.Lock()
	s.lastAddParams = arg
	s.mu.Unlock()
	if s.addPermsFn != nil {
		return s.addPermsFn(arg)
	}
	return nil
}

func (s *mockStore) RemoveRolePermissions(_ context.Context, arg guilddb.RemoveRolePermissionsParams) ([]string, error) {
	s.removePermsCalls.Add(1)
	s.mu.Lock()
	s.lastRemoveParams = arg
	s.mu.Unlock()
	if s.removePermsFn != nil {
		return s.removePermsFn(arg)
	}
	return arg.Commands, nil
}

func (s *mockStore) RemoveElevatedRoles(_ context.Context, guildID int64, roleIDs []int64) error {
	s.removeRolesCalls.Add(1)
	s.mu.Lock()
	s.lastRemovedRoles = roleIDs
	s.mu.Unlock()
	if s.removeRolesFn != nil {
		return s.removeRolesFn(guildID, roleIDs)
	}
	return nil
}

func ptr(v int64) *int64 {
	return &v
}

func registerTestGuild(t *testing.T, m *Manager, guildID int64) {
	t.Helper()
	require.NoError(t, m.RegisterGuild(context.Background(), GuildInfo{GuildID: guildID, Name: "test"}))
}

func TestRegisterGuild_ReadsThrough(t *testing.T) {
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{42: {"add", "remove"}}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)

	require.NoError(t, m.RegisterGuild(context.Background(), GuildInfo{GuildID: 1, Name: "pickup"}))

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Settings.GuildID)
	assert.Equal(t, "!", state.Settings.Prefix)
	assert.Nil(t, state.Settings.PickupChannelID)
	assert.Nil(t, state.Settings.ListenChannelID)
	require.Contains(t, state.RoleCommandPermissions, int64(42))
	assert.True(t, state.RoleCommandPermissions[42].Contains("add"))
	assert.True(t, state.RoleCommandPermissions[42].Contains("remove"))
}

func TestRegisterGuild_Idempotent(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)

	for range 3 {
		require.NoError(t, m.RegisterGuild(context.Background(), GuildInfo{GuildID: 1, Name: "pickup"}))
	}

	assert.Equal(t, int64(1), store.getOrCreateCalls.Load())
	assert.Equal(t, int64(1), store.getPermsCalls.Load())
}

func TestRegisterGuild_ConcurrentSingleFetch(t *testing.T) {
	store := &mockStore{
		getOrCreateFn: func(arg guilddb.GetOrCreateGuildParams) (guilddb.Guild, error) {
			time.Sleep(10 * time.Millisecond) // widen the race window
			return guilddb.Guild{GuildID: arg.GuildID, Name: arg.Name, Prefix: guilddb.DefaultPrefix}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			return m.RegisterGuild(context.Background(), GuildInfo{GuildID: 1, Name: "pickup"})
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), store.getOrCreateCalls.Load())
	assert.Equal(t, int64(1), store.getPermsCalls.Load())
}

func TestRegisterGuild_ConfiguredDefaultPrefix(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, "?")

	require.NoError(t, m.RegisterGuild(context.Background(), GuildInfo{GuildID: 1, Name: "pickup"}))

	store.mu.Lock()
	assert.Equal(t, "?", store.lastCreateParams.Prefix)
	store.mu.Unlock()

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.Equal(t, "?", state.Settings.Prefix)
}

func TestRegisterGuild_StoreError(t *testing.T) {
	wantErr := errors.New("connection refused")
	store := &mockStore{
		getOrCreateFn: func(guilddb.GetOrCreateGuildParams) (guilddb.Guild, error) {
			return guilddb.Guild{}, wantErr
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)

	err := m.RegisterGuild(context.Background(), GuildInfo{GuildID: 1, Name: "pickup"})
	require.ErrorIs(t, err, wantErr)

	_, err = m.GetGuildState(1)
	assert.ErrorIs(t, err, ErrGuildNotCached)
}

func TestRegisterGuilds_StopsAtFirstError(t *testing.T) {
	wantErr := errors.New("connection refused")
	store := &mockStore{
		getOrCreateFn: func(arg guilddb.GetOrCreateGuildParams) (guilddb.Guild, error) {
			if arg.GuildID == 2 {
				return guilddb.Guild{}, wantErr
			}
			return guilddb.Guild{GuildID: arg.GuildID, Name: arg.Name, Prefix: guilddb.DefaultPrefix}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)

	err := m.RegisterGuilds(context.Background(), []GuildInfo{
		{GuildID: 1, Name: "a"},
		{GuildID: 2, Name: "b"},
		{GuildID: 3, Name: "c"},
	})
	require.ErrorIs(t, err, wantErr)

	_, err = m.GetGuildState(1)
	assert.NoError(t, err)
	_, err = m.GetGuildState(3)
	assert.ErrorIs(t, err, ErrGuildNotCached)
}

func TestGetGuildState_NotCached(t *testing.T) {
	m := NewManager(&mockStore{}, guilddb.DefaultPrefix)

	_, err := m.GetGuildState(99)
	assert.ErrorIs(t, err, ErrGuildNotCached)
}

func TestUpdateGuildConfig_NotCached(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)

	_, err := m.UpdateGuildConfig(context.Background(), GuildSettings{GuildID: 1})
	require.ErrorIs(t, err, ErrGuildNotCached)
	assert.Equal(t, int64(0), store.updateChannelsCalls.Load())
}

func TestUpdateGuildConfig_EqualChannelsRejected(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	res, err := m.UpdateGuildConfig(context.Background(), GuildSettings{
		GuildID:         1,
		PickupChannelID: ptr(100),
		ListenChannelID: ptr(100),
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Pickup and Listen channel should differ from each other.", res.Error)
	assert.Equal(t, int64(0), store.updateChannelsCalls.Load())

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.Nil(t, state.Settings.PickupChannelID)
}

func TestUpdateGuildConfig_Success(t *testing.T) {
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{42: {"add"}}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	res, err := m.UpdateGuildConfig(context.Background(), GuildSettings{
		GuildID:         1,
		PickupChannelID: ptr(100),
		ListenChannelID: ptr(200),
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotNil(t, res.Settings)
	assert.Equal(t, int64(100), *res.Settings.PickupChannelID)
	assert.Equal(t, int64(200), *res.Settings.ListenChannelID)

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), *state.Settings.PickupChannelID)
	assert.Equal(t, int64(200), *state.Settings.ListenChannelID)
	// Permissions carry over unchanged.
	assert.True(t, state.RoleCommandPermissions[42].Contains("add"))
}

func TestUpdateGuildConfig_OneChannelSet(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	res, err := m.UpdateGuildConfig(context.Background(), GuildSettings{
		GuildID:         1,
		PickupChannelID: ptr(100),
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, int64(100), *res.Settings.PickupChannelID)
	assert.Nil(t, res.Settings.ListenChannelID)
}

func TestUpdateGuildConfig_RowMissing(t *testing.T) {
	store := &mockStore{
		updateChannelsFn: func(guilddb.UpdateGuildChannelsParams) (bool, error) {
			return false, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	res, err := m.UpdateGuildConfig(context.Background(), GuildSettings{
		GuildID:         1,
		PickupChannelID: ptr(100),
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Something went wrong updating the database.", res.Error)

	// Cache keeps the old snapshot.
	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.Nil(t, state.Settings.PickupChannelID)
}

func TestUpdateGuildConfig_StoreError(t *testing.T) {
	wantErr := errors.New("connection refused")
	store := &mockStore{
		updateChannelsFn: func(guilddb.UpdateGuildChannelsParams) (bool, error) {
			return false, wantErr
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	_, err := m.UpdateGuildConfig(context.Background(), GuildSettings{
		GuildID:         1,
		PickupChannelID: ptr(100),
	})
	require.ErrorIs(t, err, wantErr)

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.Nil(t, state.Settings.PickupChannelID)
}

func TestAddRolePermissions_FiltersAndInserts(t *testing.T) {
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{42: {"add"}}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	valid := []string{"add", "remove", "promote"}
	added, err := m.AddRolePermissions(context.Background(), 1, 42,
		[]string{"add", "remove", "promote", "bogus", "remove"}, valid)
	require.NoError(t, err)
	assert.Equal(t, []string{"remove", "promote"}, added)

	store.mu.Lock()
	assert.Equal(t, []string{"remove", "promote"}, store.lastAddParams.Commands)
	assert.Equal(t, int64(42), store.lastAddParams.RoleID)
	store.mu.Unlock()

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.True(t, state.RoleCommandPermissions[42].Equal(mapset.NewSet("add", "remove", "promote")))
}

func TestAddRolePermissions_NewRole(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	added, err := m.AddRolePermissions(context.Background(), 1, 7, []string{"add"}, []string{"add"})
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, added)

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.True(t, state.RoleCommandPermissions[7].Contains("add"))
}

func TestAddRolePermissions_NoOpSkipsStore(t *testing.T) {
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{42: {"add", "remove"}}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	added, err := m.AddRolePermissions(context.Background(), 1, 42,
		[]string{"add", "remove"}, []string{"add", "remove"})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, int64(0), store.addPermsCalls.Load())
}

func TestAddRolePermissions_InvalidNamesOnly(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	added, err := m.AddRolePermissions(context.Background(), 1, 42,
		[]string{"bogus", "nope"}, []string{"add"})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, int64(0), store.addPermsCalls.Load())
}

func TestAddRolePermissions_NotCached(t *testing.T) {
	m := NewManager(&mockStore{}, guilddb.DefaultPrefix)

	_, err := m.AddRolePermissions(context.Background(), 1, 42, []string{"add"}, []string{"add"})
	assert.ErrorIs(t, err, ErrGuildNotCached)
}

func TestAddRolePermissions_StoreError(t *testing.T) {
	wantErr := errors.New("connection refused")
	store := &mockStore{
		addPermsFn: func(guilddb.AddRolePermissionsParams) error {
			return wantErr
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	_, err := m.AddRolePermissions(context.Background(), 1, 42, []string{"add"}, []string{"add"})
	require.ErrorIs(t, err, wantErr)

	// A failed write leaves the cache untouched.
	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.NotContains(t, state.RoleCommandPermissions, int64(42))
}

func TestAddRolePermissions_ConcurrentSameGrant(t *testing.T) {
	store := &mockStore{
		addPermsFn: func(guilddb.AddRolePermissionsParams) error {
			time.Sleep(5 * time.Millisecond) // widen the race window
			return nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := m.AddRolePermissions(context.Background(), 1, 42, []string{"add"}, []string{"add"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	// The re-check under the guild lock lets exactly one writer through.
	assert.Equal(t, int64(1), store.addPermsCalls.Load())

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.Equal(t, 1, state.RoleCommandPermissions[42].Cardinality())
}

func TestAddRolePermissions_ConcurrentDisjointGrants(t *testing.T) {
	store := &mockStore{
		addPermsFn: func(guilddb.AddRolePermissionsParams) error {
			time.Sleep(5 * time.Millisecond) // widen the race window
			return nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	valid := make([]string, 8)
	for i := range valid {
		valid[i] = fmt.Sprintf("cmd%d", i)
	}

	var g errgroup.Group
	for _, name := range valid {
		g.Go(func() error {
			added, err := m.AddRolePermissions(context.Background(), 1, 42, []string{name}, valid)
			if err != nil {
				return err
			}
			if len(added) != 1 || added[0] != name {
				return fmt.Errorf("grant %q not inserted, got %v", name, added)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every writer's grant survives the copy-on-write swaps.
	assert.Equal(t, int64(8), store.addPermsCalls.Load())

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.True(t, state.RoleCommandPermissions[42].Equal(mapset.NewSet(valid...)))
}

func TestRemoveRolePermissions_SetAlgebra(t *testing.T) {
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{42: {"add", "remove", "promote"}}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	valid := []string{"add", "remove", "promote", "demote"}
	removed, err := m.RemoveRolePermissions(context.Background(), 1, 42,
		[]string{"remove", "promote", "demote"}, valid)
	require.NoError(t, err)
	assert.Equal(t, []string{"remove", "promote"}, removed)

	store.mu.Lock()
	assert.Equal(t, []string{"remove", "promote"}, store.lastRemoveParams.Commands)
	store.mu.Unlock()

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.True(t, state.RoleCommandPermissions[42].Equal(mapset.NewSet("add")))
}

func TestRemoveRolePermissions_LastGrantDropsRole(t *testing.T) {
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{42: {"add"}}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	removed, err := m.RemoveRolePermissions(context.Background(), 1, 42, []string{"add"}, []string{"add"})
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, removed)

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.NotContains(t, state.RoleCommandPermissions, int64(42))
}

func TestRemoveRolePermissions_NoOpSkipsStore(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	removed, err := m.RemoveRolePermissions(context.Background(), 1, 42, []string{"add"}, []string{"add"})
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, int64(0), store.removePermsCalls.Load())
}

func TestRemoveRolePermissions_CacheFollowsStore(t *testing.T) {
	// The store reports fewer deletions than requested; only those leave the
	// cached set.
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{42: {"add", "remove"}}, nil
		},
		removePermsFn: func(guilddb.RemoveRolePermissionsParams) ([]string, error) {
			return []string{"remove"}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	removed, err := m.RemoveRolePermissions(context.Background(), 1, 42,
		[]string{"add", "remove"}, []string{"add", "remove"})
	require.NoError(t, err)
	assert.Equal(t, []string{"remove"}, removed)

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.True(t, state.RoleCommandPermissions[42].Equal(mapset.NewSet("add")))
}

func TestRemoveElevatedRoles(t *testing.T) {
	store := &mockStore{
		getPermsFn: func(int64) (map[int64][]string, error) {
			return map[int64][]string{
				42: {"add"},
				43: {"remove"},
			}, nil
		},
	}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	require.NoError(t, m.RemoveElevatedRoles(context.Background(), 1, []int64{42, 99}))

	store.mu.Lock()
	assert.Equal(t, []int64{42}, store.lastRemovedRoles)
	store.mu.Unlock()

	state, err := m.GetGuildState(1)
	require.NoError(t, err)
	assert.NotContains(t, state.RoleCommandPermissions, int64(42))
	assert.Contains(t, state.RoleCommandPermissions, int64(43))
}

func TestRemoveElevatedRoles_NoneElevated(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	require.NoError(t, m.RemoveElevatedRoles(context.Background(), 1, []int64{42, 43}))
	assert.Equal(t, int64(0), store.removeRolesCalls.Load())
}

func TestEvictGuild(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	m.EvictGuild(1)

	_, err := m.GetGuildState(1)
	assert.ErrorIs(t, err, ErrGuildNotCached)

	// Eviction is cache-only and evicting again is harmless.
	m.EvictGuild(1)
	assert.Equal(t, int64(1), store.getOrCreateCalls.Load())
}

func TestEvictThenReregister(t *testing.T) {
	store := &mockStore{}
	m := NewManager(store, guilddb.DefaultPrefix)
	registerTestGuild(t, m, 1)

	m.EvictGuild(1)
	registerTestGuild(t, m, 1)

	_, err := m.GetGuildState(1)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), store.getOrCreateCalls.Load())
}
