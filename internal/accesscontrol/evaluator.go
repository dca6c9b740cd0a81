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

// Package accesscontrol decides whether an incoming command may run, from
// the cached guild state alone. Both gates are pure and synchronous, so they
// are safe on the command-dispatch hot path.
package accesscontrol

import (
	"github.com/pickuphq/pickupbot/internal/guildstate"
)

// ChannelScope restricts which channel a command may be invoked from.
type ChannelScope int

const (
	// ChannelScopeGlobal allows any channel.
	ChannelScopeGlobal ChannelScope = iota
	// ChannelScopePickup allows only the configured pickup channel.
	ChannelScopePickup
	// ChannelScopeListen allows only the configured listen channel.
	ChannelScopeListen
	// ChannelScopePickupOrListen allows either configured channel.
	ChannelScopePickupOrListen
)

// PermissionScope restricts who may invoke a command.
type PermissionScope int

const (
	// PermissionScopeEveryone allows any member.
	PermissionScopeEveryone PermissionScope = iota
	// PermissionScopeGated allows administrators and members holding a role
	// granted the command.
	PermissionScopeGated
	// PermissionScopeAdminOnly allows only administrators.
	PermissionScopeAdminOnly
)

// StateProvider is the read-only view of cached guild state the evaluator
// needs. *guildstate.Manager satisfies it.
type StateProvider interface {
	GetGuildState(guildID int64) (guildstate.GuildState, error)
}

// Evaluator answers allow/deny for command invocations.
type Evaluator struct {
	states StateProvider
}

// NewEvaluator creates an evaluator reading from the given state provider.
func NewEvaluator(states StateProvider) *Evaluator {
	return &Evaluator{states: states}
}

// CheckChannelScope reports whether a command arriving on currentChannelID
// satisfies the required channel scope. An unset configured channel can
// never match. The returned error is non-nil only when the guild is not
// cached.
func (e *Evaluator) CheckChannelScope(scope ChannelScope, guildID, currentChannelID int64) (bool, error) {
	if scope == ChannelScopeGlobal {
		return true, nil
	}

	state, err := e.states.GetGuildState(guildID)
	if err != nil {
		return false, err
	}
	pickup := state.Settings.PickupChannelID
	listen := state.Settings.ListenChannelID

	switch scope {
	case ChannelScopePickup:
		return pickup != nil && *pickup == currentChannelID, nil
	case ChannelScopeListen:
		return listen != nil && *listen == currentChannelID, nil
	case ChannelScopePickupOrListen:
		return (pickup != nil && *pickup == currentChannelID) ||
			(listen != nil && *listen == currentChannelID), nil
	}
	return false, nil
}

// CheckPermissionScope reports whether the caller satisfies the required
// permission scope for the named command.
func (e *Evaluator) CheckPermissionScope(scope PermissionScope, guildID int64, memberRoleIDs []int64, isAdmin bool, commandName string) (bool, error) {
	switch scope {
	case PermissionScopeEveryone:
		return true, nil
	case PermissionScopeAdminOnly:
		return isAdmin, nil
	case PermissionScopeGated:
		return e.HasCommandPermission(guildID, memberRoleIDs, isAdmin, commandName)
	}
	return false, nil
}

// HasCommandPermission reports whether the caller is an administrator or
// holds at least one role granted the named command. The first matching
// role short-circuits.
func (e *Evaluator) HasCommandPermission(guildID int64, memberRoleIDs []int64, isAdmin bool, commandName string) (bool, error) {
	if isAdmin {
		return true, nil
	}

	state, err := e.states.GetGuildState(guildID)
	if err != nil {
		return false, err
	}

	for _, roleID := range memberRoleIDs {
		if grants, ok := state.RoleCommandPermissions[roleID]; ok && grants.Contains(commandName) {
			return true, nil
		}
	}
	return false, nil
}
