package domain

import "context"

// BlobObject is one retrieved document payload together with the opaque
// revision token the backend returned for it.
type BlobObject struct {
	Data     []byte
	Revision string
}

// PutOptions controls conditional writes.
type PutOptions struct {
	// IfRevision makes the write succeed only while the stored object still
	// carries this revision token. ErrRevisionConflict is returned when a
	// concurrent writer replaced it, ErrNotFound when the object is gone.
	IfRevision string

	// IfAbsent makes the write succeed only when no object exists at the
	// key yet.
	IfAbsent bool
}

// DocumentBlob is the upload/download surface of the external document
// store. It offers no transactions; the revision token is the only
// concurrency primitive.
type DocumentBlob interface {
	// Get retrieves the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) (BlobObject, error)

	// Put stores data at key, honoring opts, and returns the new revision
	// token.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (string, error)
}

// TradeJournal records closed trades in durable storage for audit and
// export. Implementations must be safe to skip: a journal failure is logged
// by the caller and never aborts a cycle.
type TradeJournal interface {
	Record(ctx context.Context, rec TradeRecord) error
}
