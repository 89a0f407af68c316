package models

import (
	"strings"
	"time"
)

// Verb is the category of a privileged action. The set is closed; every verb
// carries its own audit-log action code and default threshold.
type Verb uint8

const (
	VerbUnknown Verb = iota
	VerbBan
	VerbKick
	VerbChannelCreate
	VerbChannelDelete
	VerbRoleCreate
	VerbRoleDelete
	VerbWebhookCreate
	VerbWebhookUpdate
)

type verbInfo struct {
	name        string
	display     string
	auditAction int
	threshold   int
}

var verbTable = [...]verbInfo{
	VerbUnknown:       {"unknown", "Malicious Activity", 0, 0},
	VerbBan:           {"ban", "Mass Ban Attack", 22, 3},
	VerbKick:          {"kick", "Mass Kick Attack", 20, 3},
	VerbChannelCreate: {"channel_create", "Channel Create Spam", 10, 3},
	VerbChannelDelete: {"channel_delete", "Channel Delete Attack", 12, 2},
	VerbRoleCreate:    {"role_create", "Role Create Spam", 30, 3},
	VerbRoleDelete:    {"role_delete", "Role Delete Attack", 32, 2},
	VerbWebhookCreate: {"webhook_create", "Webhook Spam", 50, 2},
	VerbWebhookUpdate: {"webhook_update", "Webhook Hijack", 51, 2},
}

// AllVerbs lists every detectable verb in a stable order.
var AllVerbs = []Verb{
	VerbBan,
	VerbKick,
	VerbChannelCreate,
	VerbChannelDelete,
	VerbRoleCreate,
	VerbRoleDelete,
	VerbWebhookCreate,
	VerbWebhookUpdate,
}

func (v Verb) Valid() bool {
	return v > VerbUnknown && int(v) < len(verbTable)
}

func (v Verb) String() string {
	if int(v) >= len(verbTable) {
		return verbTable[VerbUnknown].name
	}
	return verbTable[v].name
}

// DisplayName is the human readable name used in alerts.
func (v Verb) DisplayName() string {
	if int(v) >= len(verbTable) {
		return verbTable[VerbUnknown].display
	}
	return verbTable[v].display
}

// AuditAction returns the platform audit-log action code for the verb.
func (v Verb) AuditAction() int {
	if !v.Valid() {
		return 0
	}
	return verbTable[v].auditAction
}

// DefaultThreshold returns the built-in threshold used when neither the
// process config nor the tenant overrides it.
func (v Verb) DefaultThreshold() int {
	if !v.Valid() {
		return 0
	}
	return verbTable[v].threshold
}

// VerbFromAuditAction maps a platform audit-log action code to a verb.
func VerbFromAuditAction(code int) (Verb, bool) {
	for _, v := range AllVerbs {
		if verbTable[v].auditAction == code {
			return v, true
		}
	}
	return VerbUnknown, false
}

// ParseVerb resolves a verb from its config name ("channel_delete").
func ParseVerb(name string) (Verb, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, v := range AllVerbs {
		if verbTable[v].name == name {
			return v, true
		}
	}
	return VerbUnknown, false
}

// ActionEvent is a normalized privileged action. It is produced once by
// ingestion and consumed immediately by detection; it is never persisted.
type ActionEvent struct {
	TenantID  string
	ActorID   string
	Verb      Verb
	TargetID  string
	Timestamp time.Time
	SourceID  string
}

// IsDestructive reports whether the verb removes state that recovery can restore.
func (e ActionEvent) IsDestructive() bool {
	return e.Verb == VerbBan ||
		e.Verb == VerbChannelDelete ||
		e.Verb == VerbRoleDelete
}

// JoinEvent is a member join, fed to raid detection.
type JoinEvent struct {
	TenantID  string
	UserID    string
	IsBot     bool
	Timestamp time.Time
}
