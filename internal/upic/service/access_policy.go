package service

import (
	"time"

	"github.com/upic/reader/internal/upic/types"
)

// AccessPolicy decides whether a scanned credential opens the door.
//
// When a record carries an expiration value that cannot be parsed the
// policy cannot tell whether the badge is still valid. By default it
// grants access and flags the decision (fail-open), keeping the door
// usable when the issuer writes a malformed date. Set FailClosed to deny
// instead. Either way the decision carries ReasonExpirationUnverifiable.
type AccessPolicy struct {
	FailClosed bool
}

// Decide is pure: it does no I/O and always returns a decision. Expiry is
// compared by calendar date in now's location, so a badge is valid
// through the whole of its expiration day.
func (p AccessPolicy) Decide(rec *types.CredentialRecord, now time.Time) types.Decision {
	if rec == nil {
		return types.Decision{Granted: false, Reason: types.ReasonUnknownCredential}
	}

	var d types.Decision
	switch {
	case rec.ExpirationDate != nil && types.DateOf(now).After(*rec.ExpirationDate):
		d = types.Decision{Granted: false, Reason: types.ReasonExpiredCredential}
	case rec.ExpirationDate != nil:
		d = types.Decision{Granted: true}
	case rec.HasExpiration():
		d = types.Decision{
			Granted:  !p.FailClosed,
			Reason:   types.ReasonExpirationUnverifiable,
			FailOpen: !p.FailClosed,
		}
	default:
		d = types.Decision{Granted: true}
	}

	if rec.IsTemporary {
		d.Advisory = types.AdvisoryTemporary
	}
	return d
}
