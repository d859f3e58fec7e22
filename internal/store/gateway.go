// Package store implements the state store gateway: loading and saving the
// single portfolio document against an external blob store that offers no
// transactional guarantees. Concurrency is optimistic — every load returns a
// revision token, every save is conditional on it — and recovery is biased
// toward never losing or overwriting state it does not recognize.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"papertrader/internal/domain"
)

// ResetConfirmation is the explicit token a caller must supply to replace
// the document with a fresh empty one.
const ResetConfirmation = "RESET"

// pointer is the small fixed-key object that names the active document
// object. Re-pointing it is how the gateway recovers when the document
// object itself vanishes under a concurrent writer.
type pointer struct {
	DocumentKey string `json:"documentKey"`
}

// Snapshot identifies the exact persisted state a document was loaded from:
// the object key, the store's revision token, and a checksum of the payload
// for detecting saves that would change nothing.
type Snapshot struct {
	Key      string
	Revision string
	checksum [sha256.Size]byte
}

// Gateway loads and saves the portfolio document.
type Gateway struct {
	blob       domain.DocumentBlob
	pointerKey string
	prefix     string
	cfg        domain.PortfolioConfig
	logger     *slog.Logger
}

// NewGateway creates a Gateway. pointerKey is the fixed key of the pointer
// object; prefix is where document objects are created. cfg seeds fresh
// documents when none exists yet.
func NewGateway(blob domain.DocumentBlob, pointerKey, prefix string, cfg domain.PortfolioConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		blob:       blob,
		pointerKey: pointerKey,
		prefix:     prefix,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "store")),
	}
}

// Load retrieves the latest persisted document, or initializes a fresh one
// when nothing is persisted yet. A payload that does not parse fails with
// domain.ErrCorruptedDocument; one that parses but is not ours fails with
// domain.ErrForeignDocument. Both are fatal for the invocation: proceeding
// could mask or wipe unknown state.
func (g *Gateway) Load(ctx context.Context) (*domain.PortfolioDocument, Snapshot, error) {
	ptrObj, err := g.blob.Get(ctx, g.pointerKey)
	if errors.Is(err, domain.ErrNotFound) {
		g.logger.Info("no persisted document, initializing fresh portfolio")
		return g.initialize(ctx)
	}
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("store: load pointer: %w", err)
	}

	var ptr pointer
	if err := json.Unmarshal(ptrObj.Data, &ptr); err != nil || ptr.DocumentKey == "" {
		return nil, Snapshot{}, fmt.Errorf("store: pointer %s does not name a document: %w", g.pointerKey, domain.ErrForeignDocument)
	}

	docObj, err := g.blob.Get(ctx, ptr.DocumentKey)
	if errors.Is(err, domain.ErrNotFound) {
		g.logger.Warn("pointer names a missing document, re-initializing",
			slog.String("key", ptr.DocumentKey),
		)
		return g.initialize(ctx)
	}
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("store: load document %s: %w", ptr.DocumentKey, err)
	}

	var doc domain.PortfolioDocument
	if err := json.Unmarshal(docObj.Data, &doc); err != nil {
		return nil, Snapshot{}, fmt.Errorf("store: document %s: %v: %w", ptr.DocumentKey, err, domain.ErrCorruptedDocument)
	}

	switch doc.Classify() {
	case domain.ShapeValid:
	case domain.ShapeForeign:
		return nil, Snapshot{}, fmt.Errorf("store: document %s carries version %q: %w", ptr.DocumentKey, doc.Version, domain.ErrForeignDocument)
	default:
		return nil, Snapshot{}, fmt.Errorf("store: document %s: %w", ptr.DocumentKey, domain.ErrCorruptedDocument)
	}

	snap := Snapshot{Key: ptr.DocumentKey, Revision: docObj.Revision}
	if canonical, err := json.Marshal(&doc); err == nil {
		// Checksum the canonical form, not the raw bytes: an external
		// writer may order keys differently without changing the state.
		snap.checksum = sha256.Sum256(canonical)
	}

	return &doc, snap, nil
}

// Save persists the whole document conditionally on the snapshot's revision.
//
// A payload identical to what was loaded is a success without a write. A
// revision conflict (concurrent replacement) is returned as
// domain.ErrRevisionConflict for the caller to log and skip; the next
// successful cycle carries the latest state forward. A vanished document
// object triggers the recovery path: the document is written to a fresh key
// and the pointer re-pointed, so no state is lost.
func (g *Gateway) Save(ctx context.Context, doc *domain.PortfolioDocument, snap Snapshot) (Snapshot, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return snap, fmt.Errorf("store: marshal document: %w", err)
	}

	sum := sha256.Sum256(data)
	if sum == snap.checksum {
		g.logger.Debug("document unchanged, skipping save", slog.String("key", snap.Key))
		return snap, nil
	}

	rev, err := g.blob.Put(ctx, snap.Key, data, domain.PutOptions{IfRevision: snap.Revision})
	switch {
	case err == nil:
		return Snapshot{Key: snap.Key, Revision: rev, checksum: sum}, nil

	case errors.Is(err, domain.ErrRevisionConflict):
		return snap, fmt.Errorf("store: save %s: %w", snap.Key, domain.ErrRevisionConflict)

	case errors.Is(err, domain.ErrNotFound):
		g.logger.Warn("document object vanished during save, creating replacement",
			slog.String("key", snap.Key),
		)
		return g.createAndPoint(ctx, data)

	default:
		return snap, fmt.Errorf("store: save %s: %w", snap.Key, err)
	}
}

// Reset replaces the persisted state with a fresh empty document. It
// requires the explicit confirmation token and never overwrites existing
// objects: the fresh document goes to a new key and the pointer is moved.
func (g *Gateway) Reset(ctx context.Context, confirm string) (*domain.PortfolioDocument, error) {
	if confirm != ResetConfirmation {
		return nil, fmt.Errorf("store: reset requires confirmation %q: %w", ResetConfirmation, domain.ErrResetNotConfirmed)
	}

	doc := domain.NewPortfolioDocument(g.cfg)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("store: marshal fresh document: %w", err)
	}
	if _, err := g.createAndPoint(ctx, data); err != nil {
		return nil, fmt.Errorf("store: reset: %w", err)
	}

	g.logger.Info("portfolio reset to fresh document")
	return doc, nil
}

// initialize creates a fresh empty document under a new key and points the
// pointer at it.
func (g *Gateway) initialize(ctx context.Context) (*domain.PortfolioDocument, Snapshot, error) {
	doc := domain.NewPortfolioDocument(g.cfg)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("store: marshal fresh document: %w", err)
	}

	snap, err := g.createAndPoint(ctx, data)
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("store: initialize: %w", err)
	}
	return doc, snap, nil
}

// createAndPoint writes the payload to a brand-new document key and
// re-points the pointer object at it.
func (g *Gateway) createAndPoint(ctx context.Context, data []byte) (Snapshot, error) {
	key := g.prefix + "portfolio-" + uuid.New().String() + ".json"

	rev, err := g.blob.Put(ctx, key, data, domain.PutOptions{IfAbsent: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("create document %s: %w", key, err)
	}

	ptrData, err := json.Marshal(pointer{DocumentKey: key})
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal pointer: %w", err)
	}
	if _, err := g.blob.Put(ctx, g.pointerKey, ptrData, domain.PutOptions{}); err != nil {
		return Snapshot{}, fmt.Errorf("point %s at %s: %w", g.pointerKey, key, err)
	}

	g.logger.Info("document created", slog.String("key", key))

	return Snapshot{
		Key:      key,
		Revision: rev,
		checksum: sha256.Sum256(data),
	}, nil
}
