// Package astrodata extracts semantic descriptors from FITS files through the
// DRAGONS astrodata facility and classifies each file for reduction.
package astrodata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
)

// ErrSkipPrepared marks files already processed by the pipeline; they carry
// no raw descriptors worth recording.
var ErrSkipPrepared = errors.New("file is already prepared")

// Extractor turns a file on disk into its descriptor record.
type Extractor interface {
	Extract(ctx context.Context, path string) (*domain.FileDescriptors, error)
}

// Dump is the JSON document produced by the astrodata dump helper.
type Dump struct {
	Tags        []string        `json:"tags"`
	Instrument  string          `json:"instrument"`
	GroupID     string          `json:"group_id"`
	Descriptors domain.Metadata `json:"descriptors"`
}

func (d Dump) hasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}

func (d Dump) descriptorString(key string) string {
	v, ok := d.Descriptors[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func (d Dump) descriptorFloat(key string) *float64 {
	v, ok := d.Descriptors[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// Recognize applies the file-type rules in order and returns the first match.
// A prepared file returns ErrSkipPrepared.
func Recognize(d Dump) (string, error) {
	obsType := strings.ToUpper(d.descriptorString("observation_type"))
	obsClass := d.descriptorString("observation_class")

	switch {
	case d.hasTag("BPM"):
		return domain.FileTypeBPM, nil
	case d.hasTag("PREPARED"):
		return "", ErrSkipPrepared
	case d.hasTag("UNPREPARED") && obsType == "OBJECT" &&
		(d.hasTag("STANDARD") || obsClass == "partnerCal" || obsClass == "progCal"):
		return domain.FileTypeStandard, nil
	case d.hasTag("CAL") && d.hasTag("UNPREPARED"):
		for _, tag := range domain.CalibrationTagOrder {
			if d.hasTag(tag) {
				return tag, nil
			}
		}
		return domain.FileTypeUnknown, nil
	case obsClass == "science" && d.hasTag("UNPREPARED"):
		return domain.FileTypeObject, nil
	default:
		return domain.FileTypeUnknown, nil
	}
}

// Descriptors builds the persisted descriptor record from a dump.
func Descriptors(d Dump) (*domain.FileDescriptors, error) {
	fileType, err := Recognize(d)
	if err != nil {
		return nil, err
	}

	fd := &domain.FileDescriptors{
		FileType:             fileType,
		ObservationType:      d.descriptorString("observation_type"),
		ObservationClass:     d.descriptorString("observation_class"),
		ObjectName:           d.descriptorString("object"),
		Instrument:           strings.TrimSpace(d.Instrument),
		ExposureTime:         d.descriptorFloat("exposure_time"),
		CentralWavelength:    d.descriptorFloat("central_wavelength"),
		AstrodataDescriptors: d.Descriptors.Clone(),
	}

	// GNIRS group IDs are unreliable upstream, so they are not recorded.
	if !strings.EqualFold(fd.Instrument, "GNIRS") {
		fd.GroupID = strings.TrimSpace(d.GroupID)
	}

	if raw := d.descriptorString("ut_datetime"); raw != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				utc := parsed.UTC()
				fd.ObservationDate = &utc
				break
			}
		}
	}

	return fd, nil
}

// CLIExtractor shells out to the dump helper shipped with the DRAGONS
// install; the helper prints one JSON document per file.
type CLIExtractor struct {
	Bin string
}

func NewCLIExtractor(bin string) (*CLIExtractor, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return nil, errors.New("astrodata dump binary is required")
	}
	return &CLIExtractor{Bin: bin}, nil
}

func (e *CLIExtractor) Extract(ctx context.Context, path string) (*domain.FileDescriptors, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file path is required")
	}

	cmd := exec.CommandContext(ctx, e.Bin, path)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("astrodata dump failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("astrodata dump failed: %w", err)
	}

	var dump Dump
	if err := json.Unmarshal(out, &dump); err != nil {
		return nil, fmt.Errorf("decode astrodata dump: %w", err)
	}
	return Descriptors(dump)
}
