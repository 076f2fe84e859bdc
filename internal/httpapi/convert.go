package httpapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/upic/reader/internal/upic/types"
)

// ── Status ───────────────────────────────────────────────────────────────────

func statusResponse(s types.Snapshot, now time.Time) types.StatusResponse {
	resp := types.StatusResponse{
		State:        s.State,
		ScannedID:    s.ScannedID,
		RemainingMS:  s.Remaining.Milliseconds(),
		ReloadInMS:   s.ReloadIn.Milliseconds(),
		Records:      s.Records,
		CameraIndex:  s.CameraIndex,
		CameraOnline: s.CameraOnline,
		At:           s.At.UTC().Format(time.RFC3339),
		ServerTime:   now.UTC().Format(time.RFC3339),
	}

	if s.Record != nil {
		resp.FullName = s.Record.FullName
	}
	if d := s.Decision; d != nil {
		granted := d.Granted
		resp.Granted = &granted
		resp.Reason = d.Reason
		resp.Advisory = d.Advisory
		resp.FailOpen = d.FailOpen
	}
	return resp
}

// statusToProto carries the same fields as the JSON form in a
// google.protobuf.Struct.
func statusToProto(r types.StatusResponse) (*structpb.Struct, error) {
	fields := map[string]any{
		"state":         string(r.State),
		"remaining_ms":  r.RemainingMS,
		"reload_in_ms":  r.ReloadInMS,
		"records":       r.Records,
		"camera_index":  r.CameraIndex,
		"camera_online": r.CameraOnline,
		"at":            r.At,
		"server_time":   r.ServerTime,
	}
	if r.ScannedID != "" {
		fields["scanned_id"] = r.ScannedID
	}
	if r.FullName != "" {
		fields["full_name"] = r.FullName
	}
	if r.Granted != nil {
		fields["granted"] = *r.Granted
		fields["fail_open"] = r.FailOpen
	}
	if r.Reason != "" {
		fields["reason"] = r.Reason
	}
	if r.Advisory != "" {
		fields["advisory"] = r.Advisory
	}
	return structpb.NewStruct(fields)
}

// ── Credentials ──────────────────────────────────────────────────────────────

func credentialResponse(rec types.CredentialRecord, d types.Decision) types.CredentialResponse {
	resp := types.CredentialResponse{
		ID:           rec.ID,
		FullName:     rec.FullName,
		Organization: rec.Organization,
		Department:   rec.Department,
		IsTemporary:  rec.IsTemporary,
		Granted:      d.Granted,
		Reason:       d.Reason,
		Advisory:     d.Advisory,
		FailOpen:     d.FailOpen,
	}
	switch {
	case rec.ExpirationDate != nil:
		resp.ExpirationDate = rec.ExpirationDate.String()
	case rec.ExpirationRaw != "":
		resp.ExpirationDate = rec.ExpirationRaw
	}
	return resp
}
