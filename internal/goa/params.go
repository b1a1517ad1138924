package goa

import (
	"regexp"
	"strings"
)

// Calibration download modes accepted by the query endpoint.
const (
	CalibrationsYes  = "yes"
	CalibrationsNo   = "no"
	CalibrationsOnly = "only"
)

var extensionSuffix = regexp.MustCompile(`(\.[^.]+)+$`)

// StripExtensions removes every trailing file extension from a filename
// prefix, so "N20240615S0001.fits.bz2" queries as "N20240615S0001".
func StripExtensions(name string) string {
	return extensionSuffix.ReplaceAllString(strings.TrimSpace(name), "")
}

// QueryParams narrows an archive search. Zero values are omitted from the
// request path.
type QueryParams struct {
	ObservationID        string
	ObservationClass     string
	ObservationType      string
	RawReduced           string
	QAState              string
	FilenamePrefix       string
	DownloadCalibrations string
	ProgramID            string
}

// Normalize cleans user input in place and returns the result.
func (p QueryParams) Normalize() QueryParams {
	p.ObservationID = strings.TrimSpace(p.ObservationID)
	p.ObservationClass = strings.TrimSpace(p.ObservationClass)
	p.ObservationType = strings.TrimSpace(p.ObservationType)
	p.RawReduced = strings.TrimSpace(p.RawReduced)
	p.QAState = strings.TrimSpace(p.QAState)
	p.FilenamePrefix = StripExtensions(p.FilenamePrefix)
	p.DownloadCalibrations = strings.ToLower(strings.TrimSpace(p.DownloadCalibrations))
	if p.DownloadCalibrations == "" {
		p.DownloadCalibrations = CalibrationsNo
	}
	p.ProgramID = strings.TrimSpace(p.ProgramID)
	return p
}

// Selections renders the archive URL path segments for a science query. The
// archive encodes every filter as one path element.
func (p QueryParams) Selections() []string {
	segments := []string{"notengineering", "NotFail"}
	if p.ObservationID != "" {
		segments = append(segments, p.ObservationID)
	}
	if p.ObservationClass != "" {
		segments = append(segments, p.ObservationClass)
	}
	if p.ObservationType != "" {
		segments = append(segments, p.ObservationType)
	}
	if p.RawReduced != "" {
		segments = append(segments, p.RawReduced)
	}
	if p.QAState != "" {
		segments = append(segments, p.QAState)
	}
	if p.FilenamePrefix != "" {
		segments = append(segments, "filepre="+p.FilenamePrefix)
	}
	return segments
}
