package confidential

// Params holds the owner-mutated global configuration. It exists for the
// process lifetime and survives restarts through the state backend.
type Params struct {
	Owner           [20]byte `json:"owner"`
	Paused          bool     `json:"paused"`
	CooldownSeconds uint64   `json:"cooldownSeconds"`
}

// Batch is a numbered submission window. Once Closed flips to true the
// batch is permanently immutable; activity resumes only under a new id.
type Batch struct {
	ID          uint64 `json:"id"`
	Closed      bool   `json:"closed"`
	Submissions uint64 `json:"submissions"`
	OpenedAt    int64  `json:"openedAt"`
	ClosedAt    int64  `json:"closedAt,omitempty"`
}

// ContextStatus describes the lifecycle position of a decryption request.
type ContextStatus string

const (
	ContextPending   ContextStatus = "pending"
	ContextProcessed ContextStatus = "processed"
	ContextExpired   ContextStatus = "expired"
)

// DecryptionContext binds a dispatched decryption request to the state it
// must be finalized against. Contexts are retained forever as audit
// records; Processed and Expired are one-way flags.
type DecryptionContext struct {
	RequestID string   `json:"requestId"`
	BatchID   uint64   `json:"batchId"`
	Requester [20]byte `json:"requester"`
	StateHash [32]byte `json:"stateHash"`
	Processed bool     `json:"processed"`
	Expired   bool     `json:"expired"`
	Result    bool     `json:"result"`
	CreatedAt int64    `json:"createdAt"`
	ExpiresAt int64    `json:"expiresAt,omitempty"`
}

// Status reports the context's lifecycle position.
func (c *DecryptionContext) Status() ContextStatus {
	switch {
	case c.Processed:
		return ContextProcessed
	case c.Expired:
		return ContextExpired
	default:
		return ContextPending
	}
}

// RateLimitState tracks the two independent per-address cooldown clocks.
type RateLimitState struct {
	LastSubmission int64 `json:"lastSubmission"`
	LastRequest    int64 `json:"lastRequest"`
}
