package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "free", want: PlanFree},
		{in: "premium", want: PlanPremium},
		{in: " Enterprise ", want: PlanEnterprise},
		{in: "PREMIUM", want: PlanPremium},
		{in: "gold", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, Limits{MaxShortcuts: 50, MaxAIRequests: 100}, Resolve(PlanFree))
	assert.Equal(t, Limits{MaxShortcuts: 500, MaxAIRequests: 1000}, Resolve(PlanPremium))
	assert.Equal(t, Limits{MaxShortcuts: Unlimited, MaxAIRequests: Unlimited}, Resolve(PlanEnterprise))
	assert.Equal(t, Resolve(PlanFree), Resolve(Plan("unknown")))
}

func TestRankAndUpgrade(t *testing.T) {
	assert.Less(t, Rank(PlanFree), Rank(PlanPremium))
	assert.Less(t, Rank(PlanPremium), Rank(PlanEnterprise))

	assert.True(t, IsUpgrade(PlanFree, PlanPremium))
	assert.True(t, IsUpgrade(PlanPremium, PlanEnterprise))
	assert.False(t, IsUpgrade(PlanPremium, PlanPremium))
	assert.False(t, IsUpgrade(PlanEnterprise, PlanFree))
}

func TestBest(t *testing.T) {
	assert.Equal(t, PlanFree, Best())
	assert.Equal(t, PlanPremium, Best(PlanFree, PlanPremium))
	assert.Equal(t, PlanEnterprise, Best(PlanEnterprise, PlanPremium))
}

func TestReferralBonusAndPrice(t *testing.T) {
	assert.Equal(t, int64(0), ReferralBonus(PlanFree))
	assert.Equal(t, int64(500), ReferralBonus(PlanPremium))
	assert.Equal(t, int64(2000), ReferralBonus(PlanEnterprise))

	assert.Equal(t, int64(999), Price(PlanPremium))
	assert.Equal(t, int64(4999), Price(PlanEnterprise))
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, int64(450), Remaining(500, 50))
	assert.Equal(t, int64(0), Remaining(50, 50))
	assert.Equal(t, int64(0), Remaining(50, 70))
	assert.Equal(t, Unlimited, Remaining(Unlimited, 1_000_000))
}
