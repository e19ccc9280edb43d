package domain

// DecisionStatus is the outcome of validating an invite code.
type DecisionStatus string

const (
	StatusValid   DecisionStatus = "valid"
	StatusInvalid DecisionStatus = "invalid"
	StatusReused  DecisionStatus = "reused"
)

// ValidateRequest is the body of POST /validate-code.
type ValidateRequest struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

// Decision is the body returned by POST /validate-code.
// DurationMs is -1 for unlimited grants; ResetTimestamp is epoch milliseconds
// and only set for reused codes. Error bodies for rejected requests carry no
// status.
type Decision struct {
	Status         DecisionStatus `json:"status,omitempty"`
	DurationMs     int64          `json:"durationMs,omitempty"`
	ResetTimestamp int64          `json:"resetTimestamp,omitempty"`
	Error          string         `json:"error,omitempty"`
}
