package normalizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// Deduper reserves a source-scoped dedup key. Reserve returns false when the
// key was already recorded, making concurrent duplicate submissions collapse
// to one event without any locking. Release undoes a reservation whose event
// failed to reach the durable log.
type Deduper interface {
	Reserve(ctx context.Context, tenantID string, source domain.EventSource, key string) (bool, error)
	Release(ctx context.Context, tenantID string, source domain.EventSource, key string) error
}

// PromoRedemption is an inbound promo-code redemption record.
type PromoRedemption struct {
	PromoCode        string   `json:"promo_code"`
	CampaignID       string   `json:"campaign_id"`
	PodcastID        string   `json:"podcast_id,omitempty"`
	EpisodeID        string   `json:"episode_id,omitempty"`
	Timestamp        int64    `json:"timestamp"`
	ConversionValue  *float64 `json:"conversion_value,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	EmailHash        string   `json:"email_hash,omitempty"`
	ExternalDedupKey string   `json:"external_dedup_key"`
}

// PixelFire is an inbound tracking-pixel fire. A fire carrying UTM tags is a
// tagged click and normalizes under the utm source; ad playback telemetry
// arrives on the same shape with an explicit kind.
type PixelFire struct {
	CampaignID       string `json:"campaign_id"`
	PodcastID        string `json:"podcast_id,omitempty"`
	EpisodeID        string `json:"episode_id,omitempty"`
	PixelID          string `json:"pixel_id"`
	Kind             string `json:"kind,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	UTMSource        string `json:"utm_source,omitempty"`
	UTMMedium        string `json:"utm_medium,omitempty"`
	UTMCampaign      string `json:"utm_campaign,omitempty"`
	IP               string `json:"ip"`
	UserAgent        string `json:"user_agent"`
	SessionID        string `json:"session_id,omitempty"`
	DeviceID         string `json:"device_id,omitempty"`
	ExternalDedupKey string `json:"external_dedup_key"`
}

// DirectConversion is an inbound direct API conversion.
type DirectConversion struct {
	CampaignID      string  `json:"campaign_id"`
	PodcastID       string  `json:"podcast_id,omitempty"`
	EpisodeID       string  `json:"episode_id,omitempty"`
	TrackingID      string  `json:"tracking_id"`
	Timestamp       int64   `json:"timestamp"`
	ConversionType  string  `json:"conversion_type"`
	ConversionValue float64 `json:"conversion_value"`
	Currency        string  `json:"currency,omitempty"`
	UserID          string  `json:"user_id,omitempty"`
}

// OfflineConversion is one row of an offline/in-store import batch.
type OfflineConversion struct {
	CampaignID      string  `json:"campaign_id"`
	PodcastID       string  `json:"podcast_id,omitempty"`
	ConversionDate  string  `json:"conversion_date"`
	ConversionValue float64 `json:"conversion_value"`
	Currency        string  `json:"currency,omitempty"`
	CustomerID      string  `json:"customer_id,omitempty"`
	ImportBatchID   string  `json:"import_batch_id"`
	RowIndex        int     `json:"row_index"`
}

// Normalizer canonicalizes heterogeneous inbound signals into CanonicalEvents
// and appends nothing itself: callers own the write to the event log.
type Normalizer struct {
	dedup Deduper
	log   *zap.Logger
}

// New creates a normalizer.
func New(dedup Deduper, log *zap.Logger) *Normalizer {
	return &Normalizer{dedup: dedup, log: log}
}

// Normalize turns a source-tagged payload into a CanonicalEvent. It fails
// with MalformedEventError for payloads missing campaign or timestamp,
// DuplicateEventError when the dedup key was already recorded, and
// UnknownSourceError for unrecognized sources.
func (n *Normalizer) Normalize(ctx context.Context, tenantID string, source domain.EventSource, payload []byte) (*domain.CanonicalEvent, error) {
	var (
		event *domain.CanonicalEvent
		err   error
	)

	switch source {
	case domain.SourcePromoCode:
		event, err = n.normalizePromo(tenantID, payload)
	case domain.SourcePixel, domain.SourceUTM:
		event, err = n.normalizePixel(tenantID, payload)
	case domain.SourceDirectAPI:
		event, err = n.normalizeDirect(tenantID, payload)
	case domain.SourceOfflineImport:
		event, err = n.normalizeOffline(tenantID, payload)
	default:
		return nil, &domain.UnknownSourceError{Source: string(source)}
	}
	if err != nil {
		return nil, err
	}

	ok, err := n.dedup.Reserve(ctx, tenantID, event.Source, event.DedupKey)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve dedup key: %w", err)
	}
	if !ok {
		return nil, &domain.DuplicateEventError{Source: event.Source, DedupKey: event.DedupKey}
	}

	event.RawPayload = json.RawMessage(payload)
	event.IngestedAt = time.Now().UTC()
	event.Version = uint64(event.IngestedAt.UnixNano())
	return event, nil
}

func (n *Normalizer) normalizePromo(tenantID string, payload []byte) (*domain.CanonicalEvent, error) {
	var p PromoRedemption
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &domain.MalformedEventError{Source: domain.SourcePromoCode, Reason: err.Error()}
	}
	if err := requireFields(domain.SourcePromoCode, p.CampaignID, p.Timestamp); err != nil {
		return nil, err
	}
	if p.ExternalDedupKey == "" {
		return nil, &domain.MalformedEventError{Source: domain.SourcePromoCode, Reason: "missing external_dedup_key"}
	}

	event := &domain.CanonicalEvent{
		TenantID:   tenantID,
		Timestamp:  time.Unix(p.Timestamp, 0).UTC(),
		CampaignID: p.CampaignID,
		PodcastID:  p.PodcastID,
		EpisodeID:  p.EpisodeID,
		Kind:       domain.KindConversion,
		Source:     domain.SourcePromoCode,
		DedupKey:   p.ExternalDedupKey,
		Hints: domain.IdentityHints{
			EmailHash: p.EmailHash,
			SessionID: p.PromoCode,
		},
	}
	if p.ConversionValue != nil {
		event.Value = *p.ConversionValue
		event.Currency = p.Currency
		event.Monetized = true
	}
	event.EventID = contentID(tenantID, event.Source, event.DedupKey)
	return event, nil
}

func (n *Normalizer) normalizePixel(tenantID string, payload []byte) (*domain.CanonicalEvent, error) {
	var p PixelFire
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &domain.MalformedEventError{Source: domain.SourcePixel, Reason: err.Error()}
	}
	if err := requireFields(domain.SourcePixel, p.CampaignID, p.Timestamp); err != nil {
		return nil, err
	}
	if p.ExternalDedupKey == "" {
		return nil, &domain.MalformedEventError{Source: domain.SourcePixel, Reason: "missing external_dedup_key"}
	}

	source := domain.SourcePixel
	kind := domain.KindImpression
	if p.UTMSource != "" || p.UTMMedium != "" || p.UTMCampaign != "" {
		source = domain.SourceUTM
		kind = domain.KindClick
	}
	if p.Kind != "" {
		kind = domain.EventKind(p.Kind)
		if !domain.ValidKind(kind) {
			return nil, &domain.MalformedEventError{Source: source, Reason: fmt.Sprintf("unknown event kind %q", p.Kind)}
		}
	}

	event := &domain.CanonicalEvent{
		TenantID:   tenantID,
		Timestamp:  time.Unix(p.Timestamp, 0).UTC(),
		CampaignID: p.CampaignID,
		PodcastID:  p.PodcastID,
		EpisodeID:  p.EpisodeID,
		Kind:       kind,
		Source:     source,
		DedupKey:   p.ExternalDedupKey,
		Hints: domain.IdentityHints{
			SessionID: p.SessionID,
			DeviceID:  p.DeviceID,
			IP:        p.IP,
			UserAgent: p.UserAgent,
		},
	}
	event.EventID = contentID(tenantID, event.Source, event.DedupKey)
	return event, nil
}

func (n *Normalizer) normalizeDirect(tenantID string, payload []byte) (*domain.CanonicalEvent, error) {
	var p DirectConversion
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &domain.MalformedEventError{Source: domain.SourceDirectAPI, Reason: err.Error()}
	}
	if err := requireFields(domain.SourceDirectAPI, p.CampaignID, p.Timestamp); err != nil {
		return nil, err
	}
	if p.TrackingID == "" {
		return nil, &domain.MalformedEventError{Source: domain.SourceDirectAPI, Reason: "missing tracking_id"}
	}

	event := &domain.CanonicalEvent{
		TenantID:   tenantID,
		Timestamp:  time.Unix(p.Timestamp, 0).UTC(),
		CampaignID: p.CampaignID,
		PodcastID:  p.PodcastID,
		EpisodeID:  p.EpisodeID,
		Kind:       domain.KindConversion,
		Source:     domain.SourceDirectAPI,
		DedupKey:   p.TrackingID,
		Hints:      domain.IdentityHints{UserID: p.UserID},
		Value:      p.ConversionValue,
		Currency:   p.Currency,
		Monetized:  p.ConversionValue > 0,
	}
	event.EventID = contentID(tenantID, event.Source, event.DedupKey)
	return event, nil
}

func (n *Normalizer) normalizeOffline(tenantID string, payload []byte) (*domain.CanonicalEvent, error) {
	var p OfflineConversion
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &domain.MalformedEventError{Source: domain.SourceOfflineImport, Reason: err.Error()}
	}
	if p.CampaignID == "" {
		return nil, &domain.MalformedEventError{Source: domain.SourceOfflineImport, Reason: "missing campaign_id"}
	}
	if p.ImportBatchID == "" {
		return nil, &domain.MalformedEventError{Source: domain.SourceOfflineImport, Reason: "missing import_batch_id"}
	}

	day, err := time.Parse("2006-01-02", p.ConversionDate)
	if err != nil {
		return nil, &domain.MalformedEventError{Source: domain.SourceOfflineImport, Reason: fmt.Sprintf("bad conversion_date %q", p.ConversionDate)}
	}
	// Imports carry a date, not an instant. Noon UTC keeps same-day
	// touchpoints on either side inside the attribution window.
	ts := day.Add(12 * time.Hour)

	event := &domain.CanonicalEvent{
		TenantID:   tenantID,
		Timestamp:  ts,
		CampaignID: p.CampaignID,
		PodcastID:  p.PodcastID,
		Kind:       domain.KindConversion,
		Source:     domain.SourceOfflineImport,
		DedupKey:   fmt.Sprintf("%s:%d", p.ImportBatchID, p.RowIndex),
		Hints:      domain.IdentityHints{UserID: p.CustomerID},
		Value:      p.ConversionValue,
		Currency:   p.Currency,
		Monetized:  p.ConversionValue > 0,
	}
	event.EventID = contentID(tenantID, event.Source, event.DedupKey)
	return event, nil
}

func requireFields(source domain.EventSource, campaignID string, timestamp int64) error {
	if campaignID == "" {
		return &domain.MalformedEventError{Source: source, Reason: "missing campaign_id"}
	}
	if timestamp <= 0 {
		return &domain.MalformedEventError{Source: source, Reason: "missing timestamp"}
	}
	return nil
}

// contentID derives a deterministic event ID from the dedup identity, so the
// same submission always maps to the same log row.
func contentID(tenantID string, source domain.EventSource, dedupKey string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", tenantID, source, dedupKey)))
	return hex.EncodeToString(hash[:])
}
