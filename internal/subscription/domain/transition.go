package domain

var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrial:     {SubscriptionStatusExpired},
	SubscriptionStatusActive:    {SubscriptionStatusExpired, SubscriptionStatusCancelled},
	SubscriptionStatusScheduled: {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusExpired:   {},
	SubscriptionStatusCancelled: {},
}

// IsTransitionAllowed reports whether from may move to to. Cancelled and
// Expired are terminal.
func IsTransitionAllowed(from, to SubscriptionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func IsTerminal(status SubscriptionStatus) bool {
	return len(transitions[status]) == 0
}
