package domain

import (
	"encoding/json"
	"time"
)

// EventKind classifies what a canonical event records.
type EventKind string

const (
	KindImpression EventKind = "impression"
	KindClick      EventKind = "click"
	KindAdStart    EventKind = "ad_start"
	KindAdComplete EventKind = "ad_complete"
	KindAdSkip     EventKind = "ad_skip"
	KindConversion EventKind = "conversion"
)

// ValidKind reports whether k is one of the recognized event kinds.
func ValidKind(k EventKind) bool {
	switch k {
	case KindImpression, KindClick, KindAdStart, KindAdComplete, KindAdSkip, KindConversion:
		return true
	}
	return false
}

// EventSource identifies which ingestion channel produced a signal.
type EventSource string

const (
	SourcePromoCode     EventSource = "promo_code"
	SourcePixel         EventSource = "pixel"
	SourceUTM           EventSource = "utm"
	SourceDirectAPI     EventSource = "direct_api"
	SourceOfflineImport EventSource = "offline_import"
)

// ValidSource reports whether s is one of the recognized ingestion sources.
func ValidSource(s EventSource) bool {
	switch s {
	case SourcePromoCode, SourcePixel, SourceUTM, SourceDirectAPI, SourceOfflineImport:
		return true
	}
	return false
}

// IdentityHints carries the identifying fragments attached to a single event.
// Any subset may be present; the resolver scores whatever is there.
type IdentityHints struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	EmailHash string `json:"email_hash,omitempty"`
}

// Empty reports whether no hint field is set at all.
func (h IdentityHints) Empty() bool {
	return h == IdentityHints{}
}

// Deterministic reports whether the hints carry an identity-level signal.
func (h IdentityHints) Deterministic() bool {
	return h.UserID != "" || h.EmailHash != ""
}

// CanonicalEvent is one normalized signal in the immutable event log.
// Events are append-only: the log is the source of truth and existing rows
// are never mutated.
type CanonicalEvent struct {
	EventID    string          `ch:"event_id" json:"event_id"`
	TenantID   string          `ch:"tenant_id" json:"tenant_id"`
	Timestamp  time.Time       `ch:"timestamp" json:"timestamp"`
	CampaignID string          `ch:"campaign_id" json:"campaign_id"`
	PodcastID  string          `ch:"podcast_id" json:"podcast_id"`
	EpisodeID  string          `ch:"episode_id" json:"episode_id,omitempty"`
	Kind       EventKind       `ch:"kind" json:"kind"`
	Source     EventSource     `ch:"source" json:"source"`
	DedupKey   string          `ch:"dedup_key" json:"dedup_key"`
	Hints      IdentityHints   `json:"identity_hints"`
	Value      float64         `ch:"value" json:"value,omitempty"`
	Currency   string          `ch:"currency" json:"currency,omitempty"`
	Monetized  bool            `ch:"monetized" json:"monetized"`
	RawPayload json.RawMessage `ch:"raw_payload" json:"raw_payload,omitempty"`
	IngestedAt time.Time       `ch:"ingested_at" json:"ingested_at"`
	Version    uint64          `ch:"version" json:"-"`
}

// IsConversion reports whether the event is a conversion signal.
func (e *CanonicalEvent) IsConversion() bool {
	return e.Kind == KindConversion
}

// ConversionValue returns the monetary value credited by this conversion.
// Non-monetized conversions count but carry no value.
func (e *CanonicalEvent) ConversionValue() float64 {
	if !e.Monetized {
		return 0
	}
	return e.Value
}
