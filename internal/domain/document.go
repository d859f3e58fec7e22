// Package domain defines the core data model of the paper trader: the
// portfolio document that is persisted as a single blob in the external
// store, the positions it tracks, and the interfaces its collaborators
// (price sources, blob backends, journals, event sinks) must implement.
package domain

import (
	"strings"
	"time"
)

// DocumentVersion marks the persisted document schema. A payload whose
// version field does not carry this value is classified as foreign and is
// never overwritten.
const DocumentVersion = "papertrader/1"

// PositionStatus tracks where a position sits in its exit-trigger lifecycle.
type PositionStatus string

const (
	// StatusActive means the position is open and has not yet reached the
	// trail-activation multiple.
	StatusActive PositionStatus = "active"

	// StatusTrailing means the trailing stop is armed and rises with each
	// new peak.
	StatusTrailing PositionStatus = "trailing"

	// StatusExited is terminal. An exited position is an immutable record.
	StatusExited PositionStatus = "exited"
)

// ExitReason records which trigger closed a position.
type ExitReason string

const (
	ExitReasonTrail    ExitReason = "trail"
	ExitReasonStopLoss ExitReason = "stop_loss"
)

// Position is one simulated trade, keyed by its chain-scoped token address.
type Position struct {
	Address         string  `json:"address"`
	Chain           string  `json:"chain"`
	Symbol          string  `json:"symbol"`
	EntryPrice      float64 `json:"entryPrice"`
	SignalPrice     float64 `json:"signalPrice"`
	Size            float64 `json:"size"`
	Score           float64 `json:"score,omitempty"`
	SignalMessageID string  `json:"signalMsgId,omitempty"`

	Status PositionStatus `json:"status"`

	PeakPrice float64   `json:"peakPrice"`
	PeakTime  time.Time `json:"peakTime"`

	// TrailPrice is nil while the position is active; it is set when
	// trailing begins and recomputed on every update thereafter.
	TrailPrice *float64 `json:"trailPrice,omitempty"`

	ExitPrice  float64    `json:"exitPrice,omitempty"`
	ExitTime   *time.Time `json:"exitTime,omitempty"`
	ExitReason ExitReason `json:"exitReason,omitempty"`

	Pnl           float64 `json:"pnl"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`

	OpenedAt time.Time `json:"openedAt"`
}

// Open reports whether the position still participates in price updates.
func (p *Position) Open() bool {
	return p.Status != StatusExited
}

// TradeRecord is one closed-trade summary in the bounded history log. The
// history is independent of the positions map and survives resets of
// individual positions; it also backs the no-re-entry rule.
type TradeRecord struct {
	Address    string     `json:"address"`
	Chain      string     `json:"chain"`
	Symbol     string     `json:"symbol"`
	EntryPrice float64    `json:"entryPrice"`
	ExitPrice  float64    `json:"exitPrice"`
	Size       float64    `json:"size"`
	Pnl        float64    `json:"pnl"`
	Reason     ExitReason `json:"reason"`
	OpenedAt   time.Time  `json:"openedAt"`
	ClosedAt   time.Time  `json:"closedAt"`
}

// PortfolioConfig holds the trading parameters fixed at document creation.
// The engine reads but never mutates it.
type PortfolioConfig struct {
	// PositionSize is the USD notional committed to every new position.
	PositionSize float64 `json:"positionSize"`

	// MinScore filters intake signals; signals scoring below it are not
	// opened.
	MinScore float64 `json:"minScore"`

	// TrailActivation is the price multiple relative to entry at which a
	// position begins trailing-stop protection.
	TrailActivation float64 `json:"trailActivation"`

	// TrailDistance is the fractional pullback from peak that triggers an
	// exit once trailing.
	TrailDistance float64 `json:"trailDistance"`

	// StopLoss is the fixed fractional loss from entry that forces exit
	// regardless of trailing state.
	StopLoss float64 `json:"stopLoss"`

	// HistoryLimit bounds the closed-trade log; the oldest entries are
	// dropped first.
	HistoryLimit int `json:"historyLimit"`
}

// Stats are running aggregates maintained incrementally by the engine. They
// are never recomputed from scratch, so they must stay consistent with the
// positions map across every mutation.
type Stats struct {
	TotalTrades     int     `json:"totalTrades"`
	OpenPositions   int     `json:"openPositions"`
	ClosedPositions int     `json:"closedPositions"`
	WinCount        int     `json:"winCount"`
	LossCount       int     `json:"lossCount"`
	TotalPnl        float64 `json:"totalPnl"`
	CapitalDeployed float64 `json:"capitalDeployed"`
}

// PortfolioDocument is the whole persisted state: one logical document,
// mutated exclusively by engine operations and written atomically by the
// store gateway.
type PortfolioDocument struct {
	Version   string               `json:"version"`
	Config    PortfolioConfig      `json:"config"`
	Stats     Stats                `json:"stats"`
	Positions map[string]*Position `json:"positions"`
	History   []TradeRecord        `json:"history"`
}

// NewPortfolioDocument creates an empty document with the given trading
// parameters, used on first load when no persisted copy exists.
func NewPortfolioDocument(cfg PortfolioConfig) *PortfolioDocument {
	return &PortfolioDocument{
		Version:   DocumentVersion,
		Config:    cfg,
		Positions: make(map[string]*Position),
		History:   []TradeRecord{},
	}
}

// DocumentShape classifies a persisted payload before any mutation proceeds.
type DocumentShape int

const (
	// ShapeValid is a parsable document carrying the expected version marker.
	ShapeValid DocumentShape = iota

	// ShapeForeign parses as JSON but is not one of our documents. It must
	// never be overwritten.
	ShapeForeign

	// ShapeCorrupted does not parse at all.
	ShapeCorrupted
)

// Classify inspects an already-unmarshalled document and decides whether it
// is one of ours. Corruption (unparsable bytes) is detected by the caller
// before unmarshalling succeeds.
func (d *PortfolioDocument) Classify() DocumentShape {
	if d.Version != DocumentVersion {
		return ShapeForeign
	}
	if d.Positions == nil {
		return ShapeForeign
	}
	return ShapeValid
}

// Touched reports whether the address has ever been seen by this document,
// either as a live position (any status) or as a history record. Once
// touched, no re-entry into a token ever occurs.
func (d *PortfolioDocument) Touched(address string) bool {
	key := NormalizeAddress(address)
	if _, ok := d.Positions[key]; ok {
		return true
	}
	for i := range d.History {
		if NormalizeAddress(d.History[i].Address) == key {
			return true
		}
	}
	return false
}

// OpenRefs returns a TokenRef for every non-exited position, the set the
// polling coordinator hands to the price oracle.
func (d *PortfolioDocument) OpenRefs() []TokenRef {
	refs := make([]TokenRef, 0, len(d.Positions))
	for _, pos := range d.Positions {
		if pos.Open() {
			refs = append(refs, TokenRef{Chain: pos.Chain, Address: pos.Address})
		}
	}
	return refs
}

// NormalizeAddress canonicalizes a token address for use as a map key.
// EVM addresses are case-insensitive hex; base58 chains are case-sensitive
// but never differ only by case in practice, so lowercasing is safe as a
// uniqueness key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
