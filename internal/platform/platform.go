// Package platform defines the chat platform collaborator: the data it hands
// us and the calls we make against it. The live implementation is in
// internal/bot; internal/platform/platformtest has an in-memory fake.
package platform

import (
	"context"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

// AuditRecord is one entry of the platform's privileged-action log.
type AuditRecord struct {
	ID         string
	ActionType int
	ActorID    string
	TargetID   string
	Time       time.Time
}

type ChannelKind uint8

const (
	ChannelText ChannelKind = iota
	ChannelVoice
	ChannelCategory
	ChannelOther
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelText:
		return "TEXT"
	case ChannelVoice:
		return "VOICE"
	case ChannelCategory:
		return "CATEGORY"
	default:
		return "OTHER"
	}
}

type Role struct {
	ID          string
	Name        string
	Color       int
	Permissions int64
	Hoist       bool
	Mentionable bool
	Managed     bool
	Position    int
}

type Channel struct {
	ID       string
	Name     string
	Kind     ChannelKind
	ParentID string
	Position int
}

type Webhook struct {
	ID        string
	Name      string
	ChannelID string
}

// EventHandler receives live gateway callbacks.
type EventHandler interface {
	HandleAudit(tenantID string, rec AuditRecord)
	HandleJoin(join models.JoinEvent)
	HandleTenantReady(tenantID, ownerID string)
	HandleMemberUpdate(tenantID, userID string)
}

type AuditSource interface {
	Tenants() []string
	PollPrivilegedActions(ctx context.Context, tenantID string, limit int) ([]AuditRecord, error)
}

type RoleLookup interface {
	MemberRoles(ctx context.Context, tenantID, userID string) ([]string, error)
}

type ActionExecutor interface {
	ExecuteAction(ctx context.Context, tenantID string, action models.ActionType, targetID, reason string) error
}

// StateFetcher reads the restorable state of a tenant. Each call is
// independent so one denied listing does not hide the others.
type StateFetcher interface {
	FetchRoles(ctx context.Context, tenantID string) ([]Role, error)
	FetchChannels(ctx context.Context, tenantID string) ([]Channel, error)
	FetchMemberRoles(ctx context.Context, tenantID string) (map[string][]string, error)
	FetchWebhooks(ctx context.Context, tenantID string) ([]Webhook, error)
}

type Restorer interface {
	CreateRole(ctx context.Context, tenantID string, role Role) (string, error)
	CreateChannel(ctx context.Context, tenantID string, ch Channel) (string, error)
	SetMemberRoles(ctx context.Context, tenantID, userID string, roleIDs []string) error
}

// Client is everything the service needs from the platform.
type Client interface {
	AuditSource
	RoleLookup
	ActionExecutor
	StateFetcher
	Restorer
	Subscribe(h EventHandler)
}
