package types

// Admin API payloads. Times are RFC 3339; durations are milliseconds.

type ReloadResponse struct {
	OK          bool   `json:"ok"`
	Reloaded    bool   `json:"reloaded"`
	Records     int    `json:"records"`
	Fingerprint string `json:"fingerprint"`
	LastReload  string `json:"last_reload,omitempty"`
}

type StatusResponse struct {
	State        ScanState `json:"state"`
	ScannedID    string    `json:"scanned_id,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	Granted      *bool     `json:"granted,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Advisory     string    `json:"advisory,omitempty"`
	FailOpen     bool      `json:"fail_open,omitempty"`
	RemainingMS  int64     `json:"remaining_ms"`
	ReloadInMS   int64     `json:"reload_in_ms"`
	Records      int       `json:"records"`
	CameraIndex  int       `json:"camera_index"`
	CameraOnline bool      `json:"camera_online"`
	At           string    `json:"at"`
	ServerTime   string    `json:"server_time"`
}

// CredentialResponse previews the decision a scan would get right now.
// Nothing is audited.
type CredentialResponse struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name,omitempty"`
	Organization   string `json:"organization,omitempty"`
	Department     string `json:"department,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	IsTemporary    bool   `json:"is_temporary"`
	Granted        bool   `json:"granted"`
	Reason         string `json:"reason,omitempty"`
	Advisory       string `json:"advisory,omitempty"`
	FailOpen       bool   `json:"fail_open,omitempty"`
}

type AuditDayResponse struct {
	Day     string       `json:"day"`
	Entries []AuditEntry `json:"entries"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
