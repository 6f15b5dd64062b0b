package pipeline

// Outcome is the result of one Tick.
type Outcome string

// Tick outcomes.
const (
	// OutcomeNoManifest means the root holds no manifest.
	OutcomeNoManifest Outcome = "no_manifest"
	// OutcomeAlreadyProcessed means the newest manifest has a completion marker.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeNotReady means at least one table of the newest manifest is not mounted yet.
	OutcomeNotReady Outcome = "not_ready"
	// OutcomeMerged means the newest manifest was merged and marked.
	OutcomeMerged Outcome = "merged"
	// OutcomeBusy means another Tick was still in flight.
	OutcomeBusy Outcome = "busy"
	// OutcomeFailed means the cycle stopped on an error; no marker was written.
	OutcomeFailed Outcome = "failed"
)

// State is the driver state.
type State string

// Driver states.
const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)
