package entitlements

import (
	"strings"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

// Unlimited is the limit sentinel for resources without a cap.
const Unlimited int64 = -1

// Limits are the resolved quota limits of a plan.
type Limits struct {
	MaxShortcuts  int64 `json:"max_shortcuts"`
	MaxAIRequests int64 `json:"max_ai_requests"`
}

var planLimits = map[Plan]Limits{
	PlanFree:       {MaxShortcuts: 50, MaxAIRequests: 100},
	PlanPremium:    {MaxShortcuts: 500, MaxAIRequests: 1000},
	PlanEnterprise: {MaxShortcuts: Unlimited, MaxAIRequests: Unlimited},
}

// referral bonus in cents, credited to the referrer
var referralBonus = map[Plan]int64{
	PlanFree:       0,
	PlanPremium:    500,
	PlanEnterprise: 2000,
}

// monthly price in cents
var planPrice = map[Plan]int64{
	PlanFree:       0,
	PlanPremium:    999,
	PlanEnterprise: 4999,
}

// Normalize maps arbitrary input to a known plan. Unknown values fall back to free.
func Normalize(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanPremium:
		return PlanPremium
	case PlanEnterprise:
		return PlanEnterprise
	default:
		return PlanFree
	}
}

// IsKnown reports whether plan names one of the plans without normalizing.
func IsKnown(plan string) bool {
	_, ok := planLimits[Plan(strings.ToLower(strings.TrimSpace(plan)))]
	return ok
}

// Rank orders plans: free < premium < enterprise.
func Rank(plan Plan) int {
	switch Normalize(string(plan)) {
	case PlanEnterprise:
		return 2
	case PlanPremium:
		return 1
	default:
		return 0
	}
}

// IsUpgrade reports whether to is strictly higher than from.
func IsUpgrade(from, to Plan) bool {
	return Rank(to) > Rank(from)
}

// Resolve returns the quota limits of a plan.
func Resolve(plan Plan) Limits {
	return planLimits[Normalize(string(plan))]
}

func ReferralBonus(plan Plan) int64 {
	return referralBonus[Normalize(string(plan))]
}

func Price(plan Plan) int64 {
	return planPrice[Normalize(string(plan))]
}

// Best returns the highest ranked plan, or free when plans is empty.
func Best(plans ...Plan) Plan {
	best := PlanFree
	for _, p := range plans {
		if Rank(p) > Rank(best) {
			best = Normalize(string(p))
		}
	}
	return best
}

// IsUnlimited reports whether limit is the unlimited sentinel.
func IsUnlimited(limit int64) bool {
	return limit == Unlimited
}

// Remaining returns how much of limit is left after used, or Unlimited.
func Remaining(limit, used int64) int64 {
	if IsUnlimited(limit) {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
