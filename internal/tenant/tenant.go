// Package tenant holds the process-wide tenant selection that scopes
// outbound calls for superusers.
//
// A Context is shared by reference between the request pipeline, which
// reads it on every call, and the session flow that writes it. Each write
// publishes a fresh immutable Selection through an atomic pointer, so
// every reader sees the latest write without locking.
package tenant

import (
	"errors"
	"strings"
	"sync/atomic"
)

// ErrTenantNotSelected is returned by Require when a superuser has not
// chosen a tenant yet.
var ErrTenantNotSelected = errors.New("tenant: superuser has not selected a tenant")

// Selection is an immutable snapshot of the tenant state.
type Selection struct {
	IsSuperuser bool

	// TenantID is normalized, or empty when no tenant is selected.
	TenantID string
}

// HasTenant reports whether a tenant is selected.
func (s Selection) HasTenant() bool { return s.TenantID != "" }

// Ready reports whether tenant-scoped operations may run. Non-superusers
// are always ready; a superuser must have selected a tenant.
func (s Selection) Ready() bool { return !s.IsSuperuser || s.HasTenant() }

// ScopeHeader returns the tenant id to send with outbound calls. It is
// non-empty only for a superuser with a selection.
func (s Selection) ScopeHeader() (string, bool) {
	if s.IsSuperuser && s.HasTenant() {
		return s.TenantID, true
	}
	return "", false
}

// Context is the mutable tenant state. The zero value is not usable; call New.
type Context struct {
	current atomic.Pointer[Selection]
}

// New returns a cleared Context.
func New() *Context {
	c := &Context{}
	c.current.Store(&Selection{})
	return c
}

// Normalize trims surrounding whitespace and upper-cases id.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Snapshot returns the current selection.
func (c *Context) Snapshot() Selection {
	return *c.current.Load()
}

// Ready reports whether tenant-scoped operations may run.
func (c *Context) Ready() bool {
	return c.Snapshot().Ready()
}

// Require returns ErrTenantNotSelected unless the context is ready.
func (c *Context) Require() error {
	if !c.Ready() {
		return ErrTenantNotSelected
	}
	return nil
}

// SetSuperuser records whether the signed-in principal is a superuser.
// Dropping superuser status also drops any tenant selection.
func (c *Context) SetSuperuser(superuser bool) {
	for {
		old := c.current.Load()
		next := Selection{IsSuperuser: superuser, TenantID: old.TenantID}
		if !superuser {
			next.TenantID = ""
		}
		if c.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SelectTenant normalizes id and stores it. An id that normalizes to the
// empty string clears the selection.
func (c *Context) SelectTenant(id string) {
	id = Normalize(id)
	for {
		old := c.current.Load()
		next := Selection{IsSuperuser: old.IsSuperuser, TenantID: id}
		if c.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Clear resets both the superuser flag and the selection.
func (c *Context) Clear() {
	c.current.Store(&Selection{})
}
