package recovery

// State is the orchestrator's phase.
type State string

const (
	Idle                 State = "idle"
	AddingNetwork        State = "adding_network"
	AwaitingFunding      State = "awaiting_funding"
	FundingSent          State = "funding_sent"
	AwaitingWalletSwitch State = "awaiting_wallet_switch"
	TransferSent         State = "transfer_sent"
	Bundling             State = "bundling"
	Simulating           State = "simulating"
	Submitting           State = "submitting"
	Monitoring           State = "monitoring"
	Recovered            State = "recovered"
	Failed               State = "failed"
	Abandoned            State = "abandoned"
)

// Terminal reports whether no further transition happens without Reset or Retry.
func (s State) Terminal() bool {
	return s == Recovered || s == Failed || s == Abandoned
}

// waiting states block on the caller, not on a network call.
func (s State) waiting() bool {
	return s == AwaitingFunding || s == AwaitingWalletSwitch
}
