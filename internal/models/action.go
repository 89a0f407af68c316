package models

import (
	"fmt"
	"strings"
)

// PunishmentKind is what the remediation executor does to a confirmed attacker.
type PunishmentKind string

const (
	PunishBan        PunishmentKind = "ban"
	PunishKick       PunishmentKind = "kick"
	PunishStripRoles PunishmentKind = "strip_roles"
)

var PunishmentKinds = []PunishmentKind{PunishBan, PunishKick, PunishStripRoles}

// ParsePunishment validates a configured punishment name.
func ParsePunishment(s string) (PunishmentKind, error) {
	kind := PunishmentKind(strings.ToLower(strings.TrimSpace(s)))
	switch kind {
	case PunishBan, PunishKick, PunishStripRoles:
		return kind, nil
	}
	return "", fmt.Errorf("unknown punishment kind %q: %w", s, ErrConfiguration)
}

// ActionType is a mutation the platform client can apply to a single target.
type ActionType uint8

const (
	ActionBan ActionType = iota + 1
	ActionKick
	ActionStripRoles
	ActionUnban
	ActionDeleteChannel
	ActionDeleteRole
)

func (a ActionType) String() string {
	switch a {
	case ActionBan:
		return "ban"
	case ActionKick:
		return "kick"
	case ActionStripRoles:
		return "strip_roles"
	case ActionUnban:
		return "unban"
	case ActionDeleteChannel:
		return "delete_channel"
	case ActionDeleteRole:
		return "delete_role"
	default:
		return "unknown"
	}
}

// ActionFor returns the platform action implementing a punishment kind.
func (k PunishmentKind) ActionFor() (ActionType, bool) {
	switch k {
	case PunishBan:
		return ActionBan, true
	case PunishKick:
		return ActionKick, true
	case PunishStripRoles:
		return ActionStripRoles, true
	}
	return 0, false
}
