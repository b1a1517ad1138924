package domain

import (
	"errors"
	"strings"
	"time"
)

// Download statuses as surfaced to clients.
const (
	DownloadRunning   = "Running"
	DownloadCompleted = "Completed"
	DownloadFailed    = "Failed"
)

// Download tracks one archive fetch for an observation.
type Download struct {
	ID                 int64
	ObservationID      int64
	UniqueID           string
	Status             string
	Done               bool
	Error              bool
	StartTime          time.Time
	EndTime            *time.Time
	Message            string
	NumFilesDownloaded int
	NumFilesOmitted    int
}

func (d Download) Validate() error {
	if d.ObservationID <= 0 {
		return errors.New("observation id is required")
	}
	if strings.TrimSpace(d.UniqueID) == "" {
		return errors.New("unique id is required")
	}
	switch d.Status {
	case DownloadRunning, DownloadCompleted, DownloadFailed:
	default:
		return errors.New("unknown download status: " + d.Status)
	}
	return nil
}
