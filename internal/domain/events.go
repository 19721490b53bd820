package domain

// Event bus channels. The WebSocket hub relays all of them to connected
// clients; the durable copies land on the matching Redis streams.
const (
	EventBondCreated         = "bond_created"
	EventWithdrawalRequested = "withdrawal_requested"
	EventBondSettled         = "bond_settled"
	EventRatesUpdated        = "rates_updated"
	EventTokensUpdated       = "bondable_tokens_updated"
	EventStrategiesUpdated   = "strategies_updated"
	EventSolvencyReport      = "solvency_report"
	EventRewardAdded         = "reward_added"
)
