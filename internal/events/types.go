package events

// Event type vocabulary, namespaced by domain. The set is open; these are the
// types this core produces or consumes.
const (
	MarketTick         = "market.tick"
	SignalGenerated    = "signal.generated"
	OrderSubmitted     = "order.submitted"
	OrderCancel        = "order.cancel"
	OrderCancelled     = "order.cancelled"
	CredentialsUpdated = "settings.credentials_updated"

	StakingRequested        = "staking.requested"
	StakingUnstakeRequested = "staking.unstake_requested"
	StakingPositionUpdated  = "staking.position_updated"
)
