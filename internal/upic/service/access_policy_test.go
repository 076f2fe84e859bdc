package service_test

import (
	"testing"
	"time"

	"github.com/upic/reader/internal/upic/service"
	"github.com/upic/reader/internal/upic/types"
)

var today = time.Date(2026, 6, 15, 18, 45, 0, 0, time.Local)

func dated(y int, m time.Month, d int) *types.CredentialRecord {
	exp := types.Date{Year: y, Month: m, Day: d}
	return &types.CredentialRecord{ID: "ABC123", ExpirationDate: &exp, ExpirationRaw: exp.String(), IsTemporary: true}
}

func TestDecide_UnknownCredential(t *testing.T) {
	d := service.AccessPolicy{}.Decide(nil, today)
	if d.Granted || d.Reason != types.ReasonUnknownCredential {
		t.Errorf("expected deny/unknown credential, got %+v", d)
	}
}

func TestDecide_ExpiredBeforeToday(t *testing.T) {
	for _, rec := range []*types.CredentialRecord{
		dated(2026, time.June, 14),
		dated(2020, time.January, 1),
		dated(2025, time.December, 31),
	} {
		d := service.AccessPolicy{}.Decide(rec, today)
		if d.Granted || d.Reason != types.ReasonExpiredCredential {
			t.Errorf("%s: expected deny/expired credential, got %+v", rec.ExpirationDate, d)
		}
	}
}

func TestDecide_ExpiresTodayIsStillValid(t *testing.T) {
	lateEvening := time.Date(2026, 6, 15, 23, 59, 59, 0, time.Local)
	d := service.AccessPolicy{}.Decide(dated(2026, time.June, 15), lateEvening)
	if !d.Granted {
		t.Errorf("expected grant on the expiration day, got %+v", d)
	}
	if d.Reason != "" {
		t.Errorf("expected empty reason, got %q", d.Reason)
	}
}

func TestDecide_FutureExpiration(t *testing.T) {
	d := service.AccessPolicy{}.Decide(dated(2099, time.January, 1), today)
	if !d.Granted || d.Reason != "" {
		t.Errorf("expected grant with empty reason, got %+v", d)
	}
}

func TestDecide_PermanentCredential(t *testing.T) {
	d := service.AccessPolicy{}.Decide(&types.CredentialRecord{ID: "PERM"}, today)
	if !d.Granted || d.Reason != "" || d.Advisory != "" {
		t.Errorf("expected plain grant, got %+v", d)
	}
}

// An unparsable expiration grants by default. This is a deliberate
// availability choice; the decision must say so.
func TestDecide_UnparsableExpirationFailsOpen(t *testing.T) {
	rec := &types.CredentialRecord{ID: "X1", ExpirationRaw: "31.12.2025"}

	d := service.AccessPolicy{}.Decide(rec, today)
	if !d.Granted {
		t.Fatal("expected fail-open grant for an unverifiable expiration")
	}
	if d.Reason != types.ReasonExpirationUnverifiable || !d.FailOpen {
		t.Errorf("fail-open grant must be flagged, got %+v", d)
	}
}

func TestDecide_UnparsableExpirationFailClosed(t *testing.T) {
	rec := &types.CredentialRecord{ID: "X1", ExpirationRaw: "not a date"}

	d := service.AccessPolicy{FailClosed: true}.Decide(rec, today)
	if d.Granted || d.FailOpen {
		t.Fatalf("expected deny with FailClosed, got %+v", d)
	}
	if d.Reason != types.ReasonExpirationUnverifiable {
		t.Errorf("expected reason %q, got %q", types.ReasonExpirationUnverifiable, d.Reason)
	}
}

func TestDecide_TemporaryIsAdvisoryOnly(t *testing.T) {
	granted := service.AccessPolicy{}.Decide(dated(2099, time.January, 1), today)
	if !granted.Granted || granted.Advisory != types.AdvisoryTemporary {
		t.Errorf("expected grant with temporary advisory, got %+v", granted)
	}

	rec := &types.CredentialRecord{ID: "T", IsTemporary: true}
	if d := (service.AccessPolicy{}).Decide(rec, today); !d.Granted {
		t.Errorf("temporary flag alone must not deny, got %+v", d)
	}
}

func TestDecide_TemporaryAdvisoryKeptOnExpiredDeny(t *testing.T) {
	d := service.AccessPolicy{}.Decide(dated(2026, time.June, 14), today)
	if d.Granted || d.Reason != types.ReasonExpiredCredential {
		t.Fatalf("expected deny/expired credential, got %+v", d)
	}
	if d.Advisory != types.AdvisoryTemporary {
		t.Errorf("expected temporary advisory on the denial, got %q", d.Advisory)
	}
}
