package ledger

import "strings"

// BalancePolicy decides which accounts may hold a negative balance.
type BalancePolicy struct {
	nonNegativeSystem map[string]struct{}
}

// NewBalancePolicy builds a policy where user accounts never go negative and
// system accounts may, except the named ones.
func NewBalancePolicy(nonNegativeSystemAccounts ...string) BalancePolicy {
	names := make(map[string]struct{}, len(nonNegativeSystemAccounts))
	for _, raw := range nonNegativeSystemAccounts {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		names[trimmed] = struct{}{}
	}
	return BalancePolicy{nonNegativeSystem: names}
}

// AllowsNegative reports whether the account may end a transaction below zero.
func (policy BalancePolicy) AllowsNegative(account Account) bool {
	if account.Kind != AccountKindSystem {
		return false
	}
	_, restricted := policy.nonNegativeSystem[account.SystemName]
	return !restricted
}
