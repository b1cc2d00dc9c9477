package domain

import "fmt"

// MalformedEventError rejects an inbound signal that cannot be normalized.
// The event is reported back to the caller and never enters the log.
type MalformedEventError struct {
	Source EventSource
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Source, e.Reason)
}

// DuplicateEventError marks a signal whose dedup key was already recorded.
// Duplicates are an idempotent no-op for callers, not a failure.
type DuplicateEventError struct {
	Source   EventSource
	DedupKey string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate %s event: dedup key %q already recorded", e.Source, e.DedupKey)
}

// UnknownSourceError rejects a signal from an unrecognized ingestion channel.
// Unknown sources are rejected rather than dropped so the log stays auditable.
type UnknownSourceError struct {
	Source string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown event source %q", e.Source)
}

// NoIdentityError marks a conversion that could not be resolved to any
// identity. The conversion is logged and excluded from attribution; it does
// not fail the batch it arrived in.
type NoIdentityError struct {
	EventID string
}

func (e *NoIdentityError) Error() string {
	return fmt.Sprintf("conversion %s cannot be resolved to an identity", e.EventID)
}

// InvalidModelError marks an unrecognized attribution model type. This is a
// configuration error and fatal to the attribution run that hit it.
type InvalidModelError struct {
	Model string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid attribution model %q", e.Model)
}

// ZeroCostError marks a campaign whose cost makes ROI undefined. Callers must
// flag the campaign instead of reporting a divide-by-zero artifact.
type ZeroCostError struct {
	CampaignID string
	Cost       float64
}

func (e *ZeroCostError) Error() string {
	return fmt.Sprintf("campaign %s cost %.2f: roi undefined for cost <= 0", e.CampaignID, e.Cost)
}

// InsufficientSampleError marks a lift computation whose combined sample is
// too small to claim significance. The stat is still produced, labeled
// non-significant.
type InsufficientSampleError struct {
	SegmentKey string
	SampleSize int
	Minimum    int
}

func (e *InsufficientSampleError) Error() string {
	return fmt.Sprintf("segment %s: sample size %d below minimum %d", e.SegmentKey, e.SampleSize, e.Minimum)
}
