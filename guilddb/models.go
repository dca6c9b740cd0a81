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
	"time"
)

// Guild mirrors one row of the guilds table.
type Guild struct {
	GuildID         int64
	Name            string
	Prefix          string
	PickupChannelID *int64
	ListenChannelID *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RolePermission mirrors one grant row: role RoleID in guild GuildID may run
// the command named PermissionKey.
type RolePermission struct {
	GuildID       int64
	RoleID        int64
	PermissionKey string
}
