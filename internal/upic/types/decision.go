package types

// Decision reasons. A granted decision normally has an empty reason.
const (
	ReasonUnknownCredential      = "unknown credential"
	ReasonExpiredCredential      = "expired credential"
	ReasonExpirationUnverifiable = "expiration unverifiable"

	AdvisoryTemporary = "temporary credential"
)

// Decision is the outcome of the access policy for one scan.
type Decision struct {
	Granted bool
	Reason  string

	// Advisory is informational only (for logging) and never affects
	// Granted.
	Advisory string

	// FailOpen is set when the grant was issued because the expiration
	// could not be verified.
	FailOpen bool
}
