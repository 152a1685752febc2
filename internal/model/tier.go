// Package model defines domain entities for the application.
package model

import (
	"fmt"
	"strings"
)

// Tier is a subscription tier.
type Tier string

// Subscription tiers.
const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ValidTiers lists tiers from lowest to highest.
var ValidTiers = []Tier{TierFree, TierPro, TierEnterprise}

// TierLimits defines per-tier quotas.
type TierLimits struct {
	// MaxAPIKeys is the maximum number of active API keys an owner may hold.
	MaxAPIKeys int
	// RateMultiplier scales the base admission quota for authenticated traffic.
	RateMultiplier int
	// MonthlyRequests is the advertised monthly request allowance reported
	// with usage statistics.
	MonthlyRequests int64
}

// TierConfigs maps tiers to their limits.
var TierConfigs = map[Tier]TierLimits{
	TierFree:       {MaxAPIKeys: 2, RateMultiplier: 1, MonthlyRequests: 100},
	TierPro:        {MaxAPIKeys: 10, RateMultiplier: 5, MonthlyRequests: 5000},
	TierEnterprise: {MaxAPIKeys: 50, RateMultiplier: 20, MonthlyRequests: 50000},
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := TierConfigs[t]; !ok {
		return "", fmt.Errorf("invalid subscription tier: %q", s)
	}
	return t, nil
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := TierConfigs[t]
	return ok
}

// Limits returns the limits for t. Unknown tiers get free limits.
func (t Tier) Limits() TierLimits {
	if l, ok := TierConfigs[t]; ok {
		return l
	}
	return TierConfigs[TierFree]
}

// AtLeast reports whether t ranks at or above min.
func (t Tier) AtLeast(min Tier) bool {
	return t.rank() >= min.rank()
}

func (t Tier) rank() int {
	for i, v := range ValidTiers {
		if v == t {
			return i
		}
	}
	return -1
}

func (t Tier) String() string {
	return string(t)
}
