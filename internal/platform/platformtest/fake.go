// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/platform"
)

type ActionCall struct {
	TenantID string
	Action   models.ActionType
	TargetID string
	Reason   string
}

type Fake struct {
	mu sync.Mutex

	TenantIDs   []string
	Audit       map[string][]platform.AuditRecord
	Roles       map[string][]platform.Role
	Channels    map[string][]platform.Channel
	Members     map[string]map[string][]string
	Webhooks    map[string][]platform.Webhook
	PollErr     error
	FetchErr    map[string]error
	LookupErr   error
	ActionErr   map[string]error
	CreateErr   map[string]error
	CreateDelay time.Duration

	Actions []ActionCall
	Log     []string

	handler platform.EventHandler
	calls   atomic.Int64
	nextID  atomic.Int64
}

func New(tenants ...string) *Fake {
	return &Fake{
		TenantIDs: tenants,
		Audit:     make(map[string][]platform.AuditRecord),
		Roles:     make(map[string][]platform.Role),
		Channels:  make(map[string][]platform.Channel),
		Members:   make(map[string]map[string][]string),
		Webhooks:  make(map[string][]platform.Webhook),
		FetchErr:  make(map[string]error),
		ActionErr: make(map[string]error),
		CreateErr: make(map[string]error),
	}
}

// Calls is the number of platform calls made so far.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

func (f *Fake) record(entry string) {
	f.mu.Lock()
	f.Log = append(f.Log, entry)
	f.mu.Unlock()
}

// Entries returns a copy of the call log.
func (f *Fake) Entries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Log...)
}

func (f *Fake) ActionCalls() []ActionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ActionCall(nil), f.Actions...)
}

func (f *Fake) Subscribe(h platform.EventHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *Fake) EmitAudit(tenantID string, rec platform.AuditRecord) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.HandleAudit(tenantID, rec)
	}
}

func (f *Fake) EmitJoin(join models.JoinEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.HandleJoin(join)
	}
}

// EmitReady announces a tenant the way the gateway does after connecting.
func (f *Fake) EmitReady(tenantID, ownerID string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.HandleTenantReady(tenantID, ownerID)
	}
}

// EmitMemberUpdate announces a change to a member's roles.
func (f *Fake) EmitMemberUpdate(tenantID, userID string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.HandleMemberUpdate(tenantID, userID)
	}
}

func (f *Fake) Tenants() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.TenantIDs...)
}

func (f *Fake) PollPrivilegedActions(ctx context.Context, tenantID string, limit int) ([]platform.AuditRecord, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	recs := f.Audit[tenantID]
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return append([]platform.AuditRecord(nil), recs...), nil
}

func (f *Fake) MemberRoles(ctx context.Context, tenantID, userID string) ([]string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	roles, ok := f.Members[tenantID][userID]
	if !ok {
		return nil, fmt.Errorf("unknown member %s", userID)
	}
	return append([]string(nil), roles...), nil
}

func (f *Fake) ExecuteAction(ctx context.Context, tenantID string, action models.ActionType, targetID, reason string) error {
	f.calls.Add(1)
	f.record(action.String() + ":" + targetID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Actions = append(f.Actions, ActionCall{TenantID: tenantID, Action: action, TargetID: targetID, Reason: reason})
	return f.ActionErr[targetID]
}

func (f *Fake) FetchRoles(ctx context.Context, tenantID string) ([]platform.Role, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FetchErr["roles"]; err != nil {
		return nil, err
	}
	return append([]platform.Role(nil), f.Roles[tenantID]...), nil
}

func (f *Fake) FetchChannels(ctx context.Context, tenantID string) ([]platform.Channel, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FetchErr["channels"]; err != nil {
		return nil, err
	}
	return append([]platform.Channel(nil), f.Channels[tenantID]...), nil
}

func (f *Fake) FetchMemberRoles(ctx context.Context, tenantID string) (map[string][]string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FetchErr["members"]; err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(f.Members[tenantID]))
	for user, roles := range f.Members[tenantID] {
		out[user] = append([]string(nil), roles...)
	}
	return out, nil
}

func (f *Fake) FetchWebhooks(ctx context.Context, tenantID string) ([]platform.Webhook, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FetchErr["webhooks"]; err != nil {
		return nil, err
	}
	return append([]platform.Webhook(nil), f.Webhooks[tenantID]...), nil
}

func (f *Fake) CreateRole(ctx context.Context, tenantID string, role platform.Role) (string, error) {
	f.calls.Add(1)
	f.record("role:start:" + role.ID)
	defer f.record("role:end:" + role.ID)
	if err := f.wait(ctx); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.CreateErr[role.ID]; err != nil {
		return "", err
	}
	role.ID = fmt.Sprintf("new-%d", f.nextID.Add(1))
	f.Roles[tenantID] = append(f.Roles[tenantID], role)
	return role.ID, nil
}

func (f *Fake) CreateChannel(ctx context.Context, tenantID string, ch platform.Channel) (string, error) {
	f.calls.Add(1)
	f.record("channel:start:" + ch.ID)
	defer f.record("channel:end:" + ch.ID)
	if err := f.wait(ctx); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.CreateErr[ch.ID]; err != nil {
		return "", err
	}
	ch.ID = fmt.Sprintf("new-%d", f.nextID.Add(1))
	f.Channels[tenantID] = append(f.Channels[tenantID], ch)
	return ch.ID, nil
}

func (f *Fake) SetMemberRoles(ctx context.Context, tenantID, userID string, roleIDs []string) error {
	f.calls.Add(1)
	f.record("member:start:" + userID)
	defer f.record("member:end:" + userID)
	if err := f.wait(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.CreateErr[userID]; err != nil {
		return err
	}
	if f.Members[tenantID] == nil {
		f.Members[tenantID] = make(map[string][]string)
	}
	f.Members[tenantID][userID] = append([]string(nil), roleIDs...)
	return nil
}

func (f *Fake) wait(ctx context.Context) error {
	if f.CreateDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.CreateDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteChannels removes channels from the live state, simulating an attack.
func (f *Fake) DeleteChannels(tenantID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Channels[tenantID] = removeChannels(f.Channels[tenantID], ids)
}

// DeleteRoles removes roles from the live state.
func (f *Fake) DeleteRoles(tenantID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Roles[tenantID][:0]
	for _, r := range f.Roles[tenantID] {
		if !contains(ids, r.ID) {
			kept = append(kept, r)
		}
	}
	f.Roles[tenantID] = kept
}

func removeChannels(chs []platform.Channel, ids []string) []platform.Channel {
	kept := chs[:0]
	for _, c := range chs {
		if !contains(ids, c.ID) {
			kept = append(kept, c)
		}
	}
	return kept
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ platform.Client = (*Fake)(nil)
