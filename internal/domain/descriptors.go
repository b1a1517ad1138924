package domain

import (
	"strings"
	"time"
)

// File types recognized by the descriptor extractor. Calibration types mirror
// the astrodata tag names; "standard", "object" and "unknown" are derived.
const (
	FileTypeBias     = "BIAS"
	FileTypeDark     = "DARK"
	FileTypeFlat     = "FLAT"
	FileTypeArc      = "ARC"
	FileTypePinhole  = "PINHOLE"
	FileTypeRonchi   = "RONCHI"
	FileTypeFringe   = "FRINGE"
	FileTypeBPM      = "BPM"
	FileTypeStandard = "standard"
	FileTypeObject   = "object"
	FileTypeUnknown  = "unknown"
)

// CalibrationTagOrder is the priority order used when a calibration frame
// carries more than one calibration tag.
var CalibrationTagOrder = []string{
	FileTypeBias,
	FileTypeDark,
	FileTypeFlat,
	FileTypeArc,
	FileTypePinhole,
	FileTypeRonchi,
	FileTypeFringe,
}

// Observation classes as reported by the archive.
const (
	ObsClassScience    = "science"
	ObsClassPartnerCal = "partnerCal"
	ObsClassProgCal    = "progCal"
	ObsClassDayCal     = "dayCal"
)

// FileDescriptors is the semantic metadata extracted once per FITS file.
// AstrodataDescriptors carries the full raw descriptor mapping for header
// display and expression filtering.
type FileDescriptors struct {
	DataProductID        int64
	FileType             string
	ObservationType      string
	ObservationClass     string
	ObjectName           string
	GroupID              string
	ExposureTime         *float64
	CentralWavelength    *float64
	WavelengthBand       string
	ObservationDate      *time.Time
	ROISetting           string
	Instrument           string
	AstrodataDescriptors Metadata
}

func (d FileDescriptors) Validate() error {
	if d.DataProductID <= 0 {
		return errRequired("data product id")
	}
	if strings.TrimSpace(d.FileType) == "" {
		return errRequired("file type")
	}
	return nil
}

// GroupKey identifies the recipe grouping a file belongs to.
type GroupKey struct {
	ObservationType  string
	ObservationClass string
	ObjectName       string
}

func (d FileDescriptors) Group() GroupKey {
	return GroupKey{
		ObservationType:  d.ObservationType,
		ObservationClass: d.ObservationClass,
		ObjectName:       d.ObjectName,
	}
}
