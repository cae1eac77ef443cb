package access

import (
	"context"

	"github.com/doutyacodes/knockster-org/internal/obs"
)

// isPreApproved reports whether the guard's organization node is the
// invitation's node or one of its ancestors. The result is advisory metadata
// for the guard's judgment, never a gate, so every failure mode resolves to
// false rather than an error that would block the scan pipeline.
//
// The walk is depth-capped. The data model guarantees a tree, but a corrupted
// parent chain must not spin the request; hitting the cap is logged because
// it almost certainly indicates an integrity bug upstream.
func (s *Service) isPreApproved(ctx context.Context, guardOrgID, invitationOrgID string) bool {
	if guardOrgID == "" || invitationOrgID == "" {
		return false
	}
	if guardOrgID == invitationOrgID {
		return true
	}

	current := invitationOrgID
	for depth := 0; depth < s.cfg.MaxOrgDepth; depth++ {
		node, err := s.store.GetOrgNode(ctx, current)
		if err != nil || node.ParentID == "" {
			return false
		}
		if node.ParentID == guardOrgID {
			return true
		}
		current = node.ParentID
	}

	obs.LogRequest(map[string]any{
		"level":     "warn",
		"msg":       "org_hierarchy_depth_cap_hit",
		"org_node":  invitationOrgID,
		"guard_org": guardOrgID,
		"max_depth": s.cfg.MaxOrgDepth,
	})
	return false
}
