package models

import "time"

// ScanSource identifies where a scanned code came from.
type ScanSource string

const (
	ScanSourceCamera ScanSource = "camera"
	ScanSourceManual ScanSource = "manual"
)

// ScanEvent is one decoded barcode value.
type ScanEvent struct {
	Code       string     `json:"code"`
	Source     ScanSource `json:"source"`
	CapturedAt time.Time  `json:"captured_at"`
}
