package config

import (
	"slices"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

type WhitelistKind string

const (
	WhitelistUser WhitelistKind = "user"
	WhitelistRole WhitelistKind = "role"
)

// TenantConfig is the per-guild protection profile kept by the config store.
type TenantConfig struct {
	TenantID    string
	OwnerID     string
	Enabled     bool
	AntiBot     bool
	Protections map[models.Verb]bool
	Punishment  models.PunishmentKind
	Thresholds  map[models.Verb]int

	WhitelistUsers []string
	WhitelistRoles []string

	LogChannelID    string
	LastSnapshotAt  time.Time
	ThreatsBlocked  int64
	TotalRecoveries int64
	UpdatedAt       time.Time
}

// NewTenantConfig returns a profile with every protection enabled.
func NewTenantConfig(tenantID string, punishment models.PunishmentKind) *TenantConfig {
	protections := make(map[models.Verb]bool, len(models.AllVerbs))
	for _, v := range models.AllVerbs {
		protections[v] = true
	}
	return &TenantConfig{
		TenantID:    tenantID,
		Enabled:     true,
		AntiBot:     true,
		Protections: protections,
		Punishment:  punishment,
		Thresholds:  make(map[models.Verb]int),
	}
}

// Clone returns a deep copy so callers never share maps with the store.
func (t *TenantConfig) Clone() *TenantConfig {
	if t == nil {
		return nil
	}
	c := *t
	c.Protections = make(map[models.Verb]bool, len(t.Protections))
	for v, on := range t.Protections {
		c.Protections[v] = on
	}
	c.Thresholds = make(map[models.Verb]int, len(t.Thresholds))
	for v, n := range t.Thresholds {
		c.Thresholds[v] = n
	}
	c.WhitelistUsers = slices.Clone(t.WhitelistUsers)
	c.WhitelistRoles = slices.Clone(t.WhitelistRoles)
	return &c
}

// ProtectionEnabled reports whether detection runs for a verb. Verbs with no
// explicit toggle are protected.
func (t *TenantConfig) ProtectionEnabled(v models.Verb) bool {
	if !t.Enabled {
		return false
	}
	on, ok := t.Protections[v]
	return !ok || on
}

func (t *TenantConfig) SetProtection(v models.Verb, on bool) {
	if t.Protections == nil {
		t.Protections = make(map[models.Verb]bool)
	}
	t.Protections[v] = on
}

// IsTrustedUser is true for the owner and explicitly whitelisted users.
func (t *TenantConfig) IsTrustedUser(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == t.OwnerID || slices.Contains(t.WhitelistUsers, userID)
}

// HasWhitelistedRole reports whether any of roles is whitelisted.
func (t *TenantConfig) HasWhitelistedRole(roles []string) bool {
	for _, r := range roles {
		if slices.Contains(t.WhitelistRoles, r) {
			return true
		}
	}
	return false
}

// AddWhitelist returns false if the entry was already present.
func (t *TenantConfig) AddWhitelist(kind WhitelistKind, id string) bool {
	list := t.whitelist(kind)
	if list == nil || slices.Contains(*list, id) {
		return false
	}
	*list = append(*list, id)
	return true
}

// RemoveWhitelist returns false if the entry was not present.
func (t *TenantConfig) RemoveWhitelist(kind WhitelistKind, id string) bool {
	list := t.whitelist(kind)
	if list == nil {
		return false
	}
	i := slices.Index(*list, id)
	if i < 0 {
		return false
	}
	*list = slices.Delete(*list, i, i+1)
	return true
}

func (t *TenantConfig) whitelist(kind WhitelistKind) *[]string {
	switch kind {
	case WhitelistUser:
		return &t.WhitelistUsers
	case WhitelistRole:
		return &t.WhitelistRoles
	}
	return nil
}
