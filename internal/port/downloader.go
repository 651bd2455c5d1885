package port

import (
	"github.com/google/uuid"

	"github.com/mapstash/mapstash/internal/domain"
)

// Transfer describes one artifact fetch handed to a Downloader. The
// storage manager issues one transfer per missing part and tells
// transfers apart by token, never by region, so a late callback from a
// superseded transfer can be discarded safely.
type Transfer struct {
	Token      uuid.UUID
	Region     domain.RegionID
	RemoteName string // artifact file name under the remote version directory
	Part       domain.Parts
	Version    int64
	Size       int64 // remote descriptor in bytes

	// Dest is the final artifact path; it must only appear once the
	// artifact is complete. TempDest is written during the transfer and
	// ResumeMark flags TempDest as continuable after a failure.
	Dest       string
	TempDest   string
	ResumeMark string
}

// ProgressFunc reports the bytes fetched so far for a transfer.
type ProgressFunc func(token uuid.UUID, bytes int64)

// DoneFunc reports the terminal outcome of a transfer: err is nil on
// success with bytes holding the final artifact size. A cancelled
// transfer fires no terminal callback at all, or one whose error matches
// domain.ErrCancelled; callers treat both the same.
type DoneFunc func(token uuid.UUID, bytes int64, err error)

// Downloader performs byte transfers on its own goroutines.
type Downloader interface {
	// Start begins the transfer and returns immediately. Exactly one
	// terminal callback fires per Start unless the transfer is cancelled.
	Start(t Transfer, onProgress ProgressFunc, onDone DoneFunc)
	// Cancel aborts the transfer with the given token if it is still
	// running; unknown tokens are ignored.
	Cancel(token uuid.UUID)
}
