// Package match defines the subjects and candidates flowing through the
// confidence cascade.
package match

import "time"

// MaxConfidence is the ceiling for every confidence value in the system.
// 1.0 is never asserted: the headroom is reserved for boosting and keeps
// downstream consumers from treating any match as certain.
const MaxConfidence = 0.99

// Method identifies which cascade strategy produced a candidate.
type Method string

const (
	MethodExact     Method = "exact"
	MethodWindowed  Method = "windowed"
	MethodReference Method = "reference"
	MethodAssisted  Method = "assisted"
)

// Subject is the thing being matched: a bank transaction against ledger
// records, a bill against coding history, and so on.
type Subject struct {
	Kind         string
	ID           string
	EntityRef    string
	Amount       float64
	Date         time.Time
	Description  string
	Counterparty string
	Reference    string
}

// Candidate is one possible resolution of a subject, scored by a strategy.
type Candidate struct {
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Amount     float64           `json:"amount,omitempty"`
	Confidence float64           `json:"confidence"`
	Method     Method            `json:"method"`
	Evidence   map[string]string `json:"evidence,omitempty"`
}

// Clamp bounds a confidence value to [0, MaxConfidence].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}
