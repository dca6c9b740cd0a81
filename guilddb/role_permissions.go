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

const getRolePermissionsQuery = `
SELECT role_id, permission_key
FROM role_permissions
WHERE guild_id = $1
ORDER BY role_id, permission_key
`

// GetRolePermissions reads all grants for a guild and folds them into a
// role id to command names mapping. A guild without grants yields an empty
// mapping.
func (q *Queries) GetRolePermissions(ctx context.Context, guildID int64) (map[int64][]string, error) {
	rows, err := q.db.Query(ctx, getRolePermissionsQuery, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make(map[int64][]string)
	for rows.Next() {
		var roleID int64
		var key string
		if err := rows.Scan(&roleID, &key); err != nil {
			return nil, err
		}
		perms[roleID] = append(perms[roleID], key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

type AddRolePermissionsParams struct {
	GuildID  int64
	RoleID   int64
	Commands []string
}

const ensureGuildRoleQuery = `
INSERT INTO guild_role_permissions (guild_id, role_id)
VALUES ($1, $2)
ON CONFLICT (guild_id, role_id) DO NOTHING
`

const insertRolePermissionsQuery = `
INSERT INTO role_permissions (guild_id, role_id, permission_key)
SELECT $1, $2, unnest($3::text[])
ON CONFLICT (guild_id, role_id, permission_key) DO NOTHING
`

// AddRolePermissions ensures the per-(guild, role) header row exists and
// inserts one grant row per command name in a single transaction. A grant
// inserted concurrently by another writer is tolerated, not surfaced.
func (store *Store) AddRolePermissions(ctx context.Context, arg AddRolePermissionsParams) error {
	return store.execTx(ctx, func(s *Store) error {
		if _, err := s.db.Exec(ctx, ensureGuildRoleQuery, arg.GuildID, arg.RoleID); err != nil {
			return err
		}
		_, err := s.db.Exec(ctx, insertRolePermissionsQuery, arg.GuildID, arg.RoleID, arg.Commands)
		return err
	})
}

type RemoveRolePermissionsParams struct {
	GuildID  int64
	RoleID   int64
	Commands []string
}

const deleteRolePermissionsQuery = `
DELETE FROM role_permissions
WHERE guild_id = $1 AND role_id = $2 AND permission_key = ANY($3::text[])
RETURNING permission_key
`

// RemoveRolePermissions deletes the matching grant rows and returns exactly
// the command names that existed and were deleted.
func (q *Queries) RemoveRolePermissions(ctx context.Context, arg RemoveRolePermissionsParams) ([]string, error) {
	rows, err := q.db.Query(ctx, deleteRolePermissionsQuery, arg.GuildID, arg.RoleID, arg.Commands)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		removed = append(removed, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return removed, nil
}

const deleteGuildRolesQuery = `
DELETE FROM guild_role_permissions
WHERE guild_id = $1 AND role_id = ANY($2::bigint[])
`

// RemoveElevatedRoles deletes the header rows for the given roles in one
// guild; the grant rows go with them via the cascading foreign key.
func (q *Queries) RemoveElevatedRoles(ctx context.Context, guildID int64, roleIDs []int64) error {
	_, err := q.db.Exec(ctx, deleteGuildRolesQuery, guildID, roleIDs)
	return err
}

const syncGatedCommandsQuery = `
INSERT INTO permissions (permission)
SELECT unnest($1::text[])
ON CONFLICT (permission) DO NOTHING
`

// SyncGatedCommands upserts the closed set of gated command names that grant
// rows reference. Called at startup from command registry introspection.
// Names no longer in the set are kept; grants referencing them stay orphaned.
func (q *Queries) SyncGatedCommands(ctx context.Context, names []string) error {
	_, err := q.db.Exec(ctx, syncGatedCommandsQuery, names)
	return err
}

const listGatedCommandsQuery = `
SELECT permission FROM permissions ORDER BY permission
`

// ListGatedCommandsUncached reads the full gated command set.
func (q *Queries) ListGatedCommandsUncached(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, listGatedCommandsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}
