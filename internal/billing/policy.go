package billing

import (
	"studyhub/internal/models"
)

// Change is the direction of a tier transition as ordered by tier power.
type Change int

const (
	ChangeDowngrade Change = iota - 1
	ChangeSame
	ChangeUpgrade
)

func (c Change) String() string {
	switch c {
	case ChangeDowngrade:
		return "downgrade"
	case ChangeUpgrade:
		return "upgrade"
	default:
		return "same"
	}
}

// Compare orders two tiers by power. Price plays no part in the comparison;
// equal power is ChangeSame even when prices differ.
func Compare(from, to *models.SubscriptionTier) Change {
	switch {
	case to.Power > from.Power:
		return ChangeUpgrade
	case to.Power < from.Power:
		return ChangeDowngrade
	default:
		return ChangeSame
	}
}

// IsBillable reports whether a tier carries a non-zero price.
func IsBillable(tier *models.SubscriptionTier) bool {
	return tier.Price > 0
}
