package domain

import "strings"

type Plan string

const (
	PlanFree     Plan = "free"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// ParsePlan treats anything unrecognised as free.
func ParsePlan(s string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanStandard:
		return PlanStandard
	case PlanPremium:
		return PlanPremium
	default:
		return PlanFree
	}
}

// Profile is what the inbox needs to know about the signed-in user.
type Profile struct {
	UserID string   `json:"userId"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Type   UserType `json:"type"`
}
