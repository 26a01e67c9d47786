package types

import "time"

type AccessStatus string

const (
	StatusGranted AccessStatus = "GRANTED"
	StatusDenied  AccessStatus = "DENIED"
)

// Decision reason strings. These are operator-visible and appear verbatim
// in the audit log.
const (
	ReasonReaderLocked       = "reader locked"
	ReasonInvalidCredential  = "invalid credential"
	ReasonCredentialNotFound = "credential not found"
	ReasonResourceNotFound   = "resource not found"
	ReasonAccessGranted      = "access granted"
	ReasonInsufficientRights = "insufficient access rights"
)

// Decision is the outcome of one access request. Holder fields are filled
// best-effort for the audit trail; their absence never blocks a decision.
type Decision struct {
	RequestID    string // correlation id, unique per request
	CredentialID string
	ReaderID     string
	ResourceID   string
	Time         time.Time
	HolderID     string
	HolderName   string
	Status       AccessStatus
	Reason       string
}

func (d Decision) Granted() bool {
	return d.Status == StatusGranted
}
