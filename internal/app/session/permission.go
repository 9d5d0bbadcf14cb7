package session

import (
	"context"
	"fmt"

	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// PermissionError carries a denial to the HTTP layer.
type PermissionError struct {
	Decision Decision
}

func (e *PermissionError) Error() string { return e.Decision.Reason }

func (e *PermissionError) Unwrap() error { return domain.ErrPermissionDenied }

// CheckPermission decides whether caller may perform action on behalf of
// target. Acting for yourself is always allowed; acting for someone else is
// reserved to the supervisor. Denials are written to the activity log.
func (s *Service) CheckPermission(ctx context.Context, caller, target domain.AgentID, action string) Decision {
	var d Decision
	switch {
	case caller == target:
		d = Decision{Allowed: true}
	case !domain.IsKnownAgent(caller):
		d = Decision{Reason: fmt.Sprintf("unknown agent %q", caller)}
	case caller == s.cfg.Supervisor:
		d = Decision{Allowed: true}
	default:
		d = Decision{Reason: fmt.Sprintf("%s may not %s on behalf of %s; only %s can act for other agents",
			caller, action, target, s.cfg.Supervisor)}
	}

	if !d.Allowed {
		observability.LoggerFromContext(ctx).Warn("permission denied",
			"caller", caller,
			"target", target,
			"action", action,
		)
		s.audit(ctx, caller, "permission_denied", d.Reason)
	}
	return d
}
