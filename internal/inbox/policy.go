package inbox

import "github.com/edumatch/messaging/internal/domain"

// NearBottom is how close, in pixels, the viewport must be to the end of
// the message list for a new message to pull it down.
const NearBottom = 100

type ScrollAction int

const (
	ScrollNone ScrollAction = iota
	ScrollInstant
	ScrollSmooth
)

func (a ScrollAction) String() string {
	switch a {
	case ScrollInstant:
		return "instant"
	case ScrollSmooth:
		return "smooth"
	default:
		return "none"
	}
}

// ScrollFor decides how to react to a message list change. The first load
// of a thread snaps to the bottom; later messages only scroll when the
// reader is already near the bottom.
func ScrollFor(firstLoad bool, distanceFromBottom float64) ScrollAction {
	if firstLoad {
		return ScrollInstant
	}
	if distanceFromBottom <= NearBottom {
		return ScrollSmooth
	}
	return ScrollNone
}

// CanReply reports whether the composer is enabled. Applicants need a
// paid plan; an unresolved plan counts as free.
func CanReply(t domain.UserType, plan domain.Plan) bool {
	if t != domain.UserApplicant {
		return true
	}
	return plan == domain.PlanStandard || plan == domain.PlanPremium
}
