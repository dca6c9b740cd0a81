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
	"sync"
)

// Cache is a keyed store of guild snapshots. It performs no I/O and holds no
// per-guild coordination; the manager serializes mutations per guild. The
// internal mutex only protects the map itself, so reads are never held up by
// an in-flight store write.
type Cache struct {
	mu     sync.RWMutex
	guilds map[int64]GuildState
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		guilds: make(map[int64]GuildState),
	}
}

// Get returns the cached snapshot for a guild.
func (c *Cache) Get(guildID int64) (GuildState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.guilds[guildID]
	return state, ok
}

// Set replaces the snapshot for a guild in one step.
func (c *Cache) Set(guildID int64, state GuildState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guilds[guildID] = state
}

// Delete removes a guild's snapshot. Deleting an absent guild is a no-op.
func (c *Cache) Delete(guildID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.guilds, guildID)
}

// Update stores every snapshot in the given map.
func (c *Cache) Update(states map[int64]GuildState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for guildID, state := range states {
		c.guilds[guildID] = state
	}
}

// Len reports how many guilds are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.guilds)
}
