package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
)

// fakeBlob is an in-memory domain.DocumentBlob honoring conditional writes,
// used to exercise the gateway's conflict and recovery paths.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string]domain.BlobObject
	revSeq  int
	puts    int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string]domain.BlobObject)}
}

func (f *fakeBlob) Get(_ context.Context, key string) (domain.BlobObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return domain.BlobObject{}, domain.ErrNotFound
	}
	return obj, nil
}

func (f *fakeBlob) Put(_ context.Context, key string, data []byte, opts domain.PutOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, exists := f.objects[key]
	if opts.IfAbsent && exists {
		return "", domain.ErrRevisionConflict
	}
	if opts.IfRevision != "" {
		if !exists {
			return "", domain.ErrNotFound
		}
		if cur.Revision != opts.IfRevision {
			return "", domain.ErrRevisionConflict
		}
	}

	f.revSeq++
	f.puts++
	rev := fmt.Sprintf("rev-%d", f.revSeq)
	f.objects[key] = domain.BlobObject{Data: append([]byte(nil), data...), Revision: rev}
	return rev, nil
}

// overwrite simulates a concurrent external writer replacing an object.
func (f *fakeBlob) overwrite(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revSeq++
	f.objects[key] = domain.BlobObject{Data: data, Revision: fmt.Sprintf("rev-%d", f.revSeq)}
}

func (f *fakeBlob) delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
}

func testGateway(blob domain.DocumentBlob) *Gateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := domain.PortfolioConfig{
		PositionSize:    250,
		TrailActivation: 1.5,
		TrailDistance:   0.10,
		StopLoss:        0.15,
		HistoryLimit:    50,
	}
	return NewGateway(blob, "portfolio/current", "portfolio/", cfg, logger)
}

func TestLoadInitializesFreshDocument(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	doc, snap, err := g.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentVersion, doc.Version)
	assert.Empty(t, doc.Positions)
	assert.NotEmpty(t, snap.Key)
	assert.NotEmpty(t, snap.Revision)

	// Pointer object exists and names the document key.
	ptrObj, err := blob.Get(ctx, "portfolio/current")
	require.NoError(t, err)
	var ptr pointer
	require.NoError(t, json.Unmarshal(ptrObj.Data, &ptr))
	assert.Equal(t, snap.Key, ptr.DocumentKey)

	// A second load finds the persisted copy, not a new one.
	_, snap2, err := g.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Key, snap2.Key)
}

func TestSaveRoundTrip(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	doc, snap, err := g.Load(ctx)
	require.NoError(t, err)

	doc.Positions["abc"] = &domain.Position{
		Address:    "abc",
		Chain:      "solana",
		EntryPrice: 1.0,
		Size:       250,
		Status:     domain.StatusActive,
		PeakPrice:  1.0,
		OpenedAt:   time.Now().UTC(),
	}
	doc.Stats.TotalTrades = 1
	doc.Stats.OpenPositions = 1

	snap2, err := g.Save(ctx, doc, snap)
	require.NoError(t, err)
	assert.NotEqual(t, snap.Revision, snap2.Revision)

	loaded, _, err := g.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded.Positions, "abc")
	assert.Equal(t, 1, loaded.Stats.TotalTrades)
}

func TestSaveUnchangedIsNoOp(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	doc, snap, err := g.Load(ctx)
	require.NoError(t, err)

	putsBefore := blob.puts
	snap2, err := g.Save(ctx, doc, snap)
	require.NoError(t, err)
	assert.Equal(t, snap.Revision, snap2.Revision)
	assert.Equal(t, putsBefore, blob.puts)
}

func TestSaveConflictIsSurfaced(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	doc, snap, err := g.Load(ctx)
	require.NoError(t, err)

	// Concurrent writer replaces the object after our load.
	other := domain.NewPortfolioDocument(doc.Config)
	other.Stats.TotalTrades = 99
	data, _ := json.Marshal(other)
	blob.overwrite(snap.Key, data)

	doc.Stats.TotalTrades = 1
	_, err = g.Save(ctx, doc, snap)
	require.ErrorIs(t, err, domain.ErrRevisionConflict)

	// The concurrent writer's state survived.
	loaded, _, err := g.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 99, loaded.Stats.TotalTrades)
}

func TestSaveRecreatesVanishedDocument(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	doc, snap, err := g.Load(ctx)
	require.NoError(t, err)

	blob.delete(snap.Key)

	doc.Stats.TotalTrades = 5
	snap2, err := g.Save(ctx, doc, snap)
	require.NoError(t, err)
	assert.NotEqual(t, snap.Key, snap2.Key)

	// Pointer now names the replacement and the state survived.
	loaded, snap3, err := g.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap2.Key, snap3.Key)
	assert.Equal(t, 5, loaded.Stats.TotalTrades)
}

func TestLoadRejectsForeignDocument(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	_, snap, err := g.Load(ctx)
	require.NoError(t, err)

	blob.overwrite(snap.Key, []byte(`{"version":"someone-elses-app/3","data":[1,2,3]}`))

	_, _, err = g.Load(ctx)
	require.ErrorIs(t, err, domain.ErrForeignDocument)
}

func TestLoadRejectsCorruptedDocument(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	_, snap, err := g.Load(ctx)
	require.NoError(t, err)

	blob.overwrite(snap.Key, []byte(`{"version": "papertr`))

	_, _, err = g.Load(ctx)
	require.ErrorIs(t, err, domain.ErrCorruptedDocument)
}

func TestLoadRejectsForeignPointer(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	blob.overwrite("portfolio/current", []byte(`"just a string"`))

	_, _, err := g.Load(ctx)
	require.ErrorIs(t, err, domain.ErrForeignDocument)
}

func TestResetRequiresConfirmation(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	_, err := g.Reset(ctx, "")
	require.ErrorIs(t, err, domain.ErrResetNotConfirmed)
	_, err = g.Reset(ctx, "reset")
	require.ErrorIs(t, err, domain.ErrResetNotConfirmed)
}

func TestResetReplacesDocument(t *testing.T) {
	blob := newFakeBlob()
	g := testGateway(blob)
	ctx := context.Background()

	doc, snap, err := g.Load(ctx)
	require.NoError(t, err)
	doc.Stats.TotalTrades = 7
	_, err = g.Save(ctx, doc, snap)
	require.NoError(t, err)

	fresh, err := g.Reset(ctx, ResetConfirmation)
	require.NoError(t, err)
	assert.Zero(t, fresh.Stats.TotalTrades)

	loaded, _, err := g.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, loaded.Stats.TotalTrades)
	assert.Empty(t, loaded.Positions)
}
