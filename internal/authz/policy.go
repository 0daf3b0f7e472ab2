package authz

import (
	"fmt"

	"github.com/felixgeelhaar/stocktake/internal/tenant"
)

// CanAccessMasterData reports whether raw may read master data.
func CanAccessMasterData(raw string) bool {
	switch Parse(raw) {
	case RoleSuperuser, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanMutateMasterData reports whether raw may change master data. It
// currently follows the access policy exactly.
func CanMutateMasterData(raw string) bool {
	return CanAccessMasterData(raw)
}

// CanActOnTenant reports whether raw, belonging to userTenant, may act on
// targetTenant. Tenant ids are compared after normalization.
func CanActOnTenant(raw, userTenant, targetTenant string) bool {
	switch Parse(raw) {
	case RoleSuperuser:
		return true
	case RoleAdmin:
		return tenant.Normalize(userTenant) == tenant.Normalize(targetTenant)
	default:
		return false
	}
}

// Action names a decision the CLI can explain.
type Action string

const (
	ActionReadMasterData  Action = "master_data:read"
	ActionWriteMasterData Action = "master_data:write"
	ActionActOnTenant     Action = "tenant:act"
)

// Actions lists the actions Authorize understands.
var Actions = []Action{ActionReadMasterData, ActionWriteMasterData, ActionActOnTenant}

// Decision is the outcome of Authorize.
type Decision struct {
	Action  Action `json:"action"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Request carries the inputs of a single decision.
type Request struct {
	Role         string
	Action       Action
	UserTenant   string
	TargetTenant string
}

// Authorize evaluates req and explains the result.
func Authorize(req Request) Decision {
	role := Parse(req.Role)
	d := Decision{Action: req.Action}

	switch req.Action {
	case ActionReadMasterData:
		d.Allowed = CanAccessMasterData(req.Role)
	case ActionWriteMasterData:
		d.Allowed = CanMutateMasterData(req.Role)
	case ActionActOnTenant:
		d.Allowed = CanActOnTenant(req.Role, req.UserTenant, req.TargetTenant)
		if role == RoleAdmin {
			if d.Allowed {
				d.Reason = fmt.Sprintf("admin of tenant %s", tenant.Normalize(req.UserTenant))
			} else {
				d.Reason = fmt.Sprintf("admin of tenant %q may not act on %q",
					tenant.Normalize(req.UserTenant), tenant.Normalize(req.TargetTenant))
			}
			return d
		}
	default:
		d.Reason = fmt.Sprintf("unknown action %q", req.Action)
		return d
	}

	if d.Allowed {
		d.Reason = fmt.Sprintf("role %s is allowed", role)
	} else {
		d.Reason = fmt.Sprintf("role %s is not allowed", role)
	}
	return d
}
