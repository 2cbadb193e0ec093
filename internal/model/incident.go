package model

// Incident is one line in the tamper ledger. All fields are concrete types
// (no map[string]any) so json.Marshal field order is deterministic and the
// hash chain over serialized lines is reproducible.
type Incident struct {
	ID           string `json:"id"`
	Timestamp    string `json:"ts"`
	FilePath     string `json:"file_path"`
	Severity     Tier   `json:"severity"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`
	ActionTaken  Action `json:"action_taken"`
	Reason       Reason `json:"reason"`
	Source       string `json:"source"`
	EvidencePath string `json:"evidence_path,omitempty"`
	Host         string `json:"host"`
	PID          int    `json:"pid"`
	PrevHash     string `json:"prev_hash"`
}
