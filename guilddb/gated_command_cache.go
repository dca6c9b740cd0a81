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

	"github.com/jellydator/ttlcache/v3"
)

const gatedCommandCacheKey = "gated-commands"

type gatedCommandCacheValue struct {
	names []string
	err   error
}

// ListGatedCommands returns the gated command set with a short TTL cache in
// front of it. The permissions table only changes on deploys, so a stale
// read here is harmless.
func (store *Store) ListGatedCommands(ctx context.Context) ([]string, error) {
	loader := ttlcache.LoaderFunc[string, gatedCommandCacheValue](
		func(cache *ttlcache.Cache[string, gatedCommandCacheValue], key string) *ttlcache.Item[string, gatedCommandCacheValue] {
			names, err := store.ListGatedCommandsUncached(ctx)
			return cache.Set(key, gatedCommandCacheValue{
				names: names,
				err:   err,
			}, ttlcache.DefaultTTL)
		},
	)
	v := store.gatedCommandCache.Get(gatedCommandCacheKey, ttlcache.WithLoader(loader))
	if v != nil {
		return v.Value().names, v.Value().err
	}
	return nil, errors.New("failed to get gated commands from cache")
}
