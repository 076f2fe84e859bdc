package types

import "time"

const (
	StatusGranted = "ACCESS GRANTED"
	StatusDenied  = "ACCESS DENIED"

	// UnknownMarker fills display columns that have no value.
	UnknownMarker = "Неизвестно"
)

// AuditEntry is one row of the access log. Entries are written once per
// completed scan and never modified.
type AuditEntry struct {
	EventID        string    `json:"event_id"`
	Timestamp      time.Time `json:"timestamp"`
	CredentialID   string    `json:"credential_id"`
	FullName       string    `json:"full_name"`
	Organization   string    `json:"organization"`
	Department     string    `json:"department"`
	ExpirationDate string    `json:"expiration_date"`
	Granted        bool      `json:"granted"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
}

// Day is the partition key of the entry (local calendar date).
func (e AuditEntry) Day() string {
	return e.Timestamp.Format(DateLayout)
}

// NewAuditEntry builds the log row for a decision. A nil record produces
// a row with unknown markers in every display column.
func NewAuditEntry(eventID string, at time.Time, rec *CredentialRecord, d Decision) AuditEntry {
	e := AuditEntry{
		EventID:        eventID,
		Timestamp:      at,
		CredentialID:   UnknownMarker,
		FullName:       UnknownMarker,
		Organization:   UnknownMarker,
		Department:     UnknownMarker,
		ExpirationDate: UnknownMarker,
		Granted:        d.Granted,
		Status:         StatusDenied,
		Reason:         d.Reason,
	}
	if d.Granted {
		e.Status = StatusGranted
	}
	if rec == nil {
		return e
	}

	e.CredentialID = orUnknown(rec.ID)
	e.FullName = orUnknown(rec.FullName)
	e.Organization = orUnknown(rec.Organization)
	e.Department = orUnknown(rec.Department)
	switch {
	case rec.ExpirationDate != nil:
		e.ExpirationDate = rec.ExpirationDate.String()
	case rec.ExpirationRaw != "":
		e.ExpirationDate = rec.ExpirationRaw
	}
	return e
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownMarker
	}
	return s
}
