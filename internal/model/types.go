package model

// Tier classifies how sensitive a protected file is and therefore how the
// agent responds when it changes.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
)

// TierOrder is the fixed evaluation order for policy sources. A path claimed
// by an earlier tier is never re-assigned by a later one.
var TierOrder = []Tier{TierCritical, TierHigh, TierMedium}

// BackedUp reports whether files of this tier get backup copies at snapshot
// time. Medium-tier files are alerted on, never auto-restored.
func (t Tier) BackedUp() bool {
	return t == TierCritical || t == TierHigh
}

// ProtectedFile is one entry of the resolved protected set. Derived from the
// tier policy at initialization, never persisted.
type ProtectedFile struct {
	Path string
	Tier Tier
}

// Reason explains a validation verdict.
type Reason string

const (
	ReasonNotMonitored Reason = "not_monitored"
	ReasonHashMatch    Reason = "hash_match"
	ReasonHashMissing  Reason = "hash_missing"
	ReasonHashMismatch Reason = "hash_mismatch"
)

// Verdict is the result of validating one file against the baseline.
// Transient, consumed by the response engine; never persisted.
type Verdict struct {
	Valid        bool
	Path         string
	Reason       Reason
	ExpectedHash string
	ActualHash   string
}

// Action is the response chosen for a tamper incident.
type Action string

const (
	ActionAlert      Action = "alert"
	ActionAutoRevert Action = "auto-revert"
	ActionShutdown   Action = "shutdown"
)
