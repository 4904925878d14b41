package models

import "time"

// BucketResult is one sliding-window decision.
type BucketResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}
