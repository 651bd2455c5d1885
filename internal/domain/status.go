package domain

import "fmt"

// Status is the externally observable download state of a region. It is
// always computed from the active transfer, queue membership, the failure
// flag and the latest local file; it is never stored on its own.
type Status int

const (
	// StatusNotDownloaded means no local file exists and no download is
	// pending for the region.
	StatusNotDownloaded Status = iota
	// StatusInQueue means a download request is admitted but not yet the
	// active transfer.
	StatusInQueue
	// StatusDownloading means the region owns the single active transfer.
	StatusDownloading
	// StatusOnDisk means the local file matches the active data version.
	StatusOnDisk
	// StatusOnDiskOutOfDate means a local file exists but a newer data
	// version has been published.
	StatusOnDiskOutOfDate
	// StatusDownloadFailed means the most recent download attempt failed
	// and no new request has been made since.
	StatusDownloadFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotDownloaded:
		return "not_downloaded"
	case StatusInQueue:
		return "in_queue"
	case StatusDownloading:
		return "downloading"
	case StatusOnDisk:
		return "on_disk"
	case StatusOnDiskOutOfDate:
		return "on_disk_out_of_date"
	case StatusDownloadFailed:
		return "download_failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}
