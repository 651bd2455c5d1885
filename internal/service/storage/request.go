package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/mapstash/mapstash/internal/domain"
)

// request is one admitted download: the parts the caller asked for, the
// subset still to fetch and the running byte counters. The manager owns
// every field; nothing here locks.
type request struct {
	region  domain.RegionID
	name    string
	version int64 // data version the request fetches

	parts   domain.Parts // full requested set, folded re-requests included
	missing domain.Parts // parts still to fetch, current one included
	fetched domain.Parts // parts committed by this request

	token   uuid.UUID    // generation token of the current transfer
	current domain.Parts // part on the wire, PartsNone while queued

	doneBytes   int64 // descriptor bytes of parts this request committed
	transferred int64 // bytes reported for the current transfer
	reported    int64 // high-water mark of progress values already notified
	total       int64 // descriptor bytes of everything the request fetches

	startedAt time.Time
}

// progress returns the bytes fetched so far across all parts of the
// request.
func (r *request) progress() int64 {
	return r.doneBytes + r.transferred
}

// QueueItem is a point-in-time view of one admitted download.
type QueueItem struct {
	Region     domain.RegionID
	Name       string
	Parts      domain.Parts
	Missing    domain.Parts
	Version    int64
	Downloaded int64
	Total      int64
}
