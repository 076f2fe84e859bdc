package types

import "time"

// ScanState is the state of the reader's scan cycle.
type ScanState string

const (
	StateReady      ScanState = "READY"
	StateProcessing ScanState = "PROCESSING"
	StateCooldown   ScanState = "COOLDOWN"
)

// ScanSession is the transient state owned by the scan controller.
type ScanSession struct {
	State          ScanState
	ScannedID      string
	Record         *CredentialRecord
	Decision       *Decision
	StateEnteredAt time.Time
}

// Snapshot is what the controller publishes to presenters after every
// loop iteration.
type Snapshot struct {
	At        time.Time
	State     ScanState
	ScannedID string
	Record    *CredentialRecord
	Decision  *Decision

	// Remaining is the time left in PROCESSING or COOLDOWN; zero in READY.
	Remaining time.Duration
	// ReloadIn is the time until the next credential store check.
	ReloadIn time.Duration

	Records      int
	CameraIndex  int
	CameraOnline bool
}
