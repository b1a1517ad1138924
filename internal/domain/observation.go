package domain

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Observation is the TOM-owned observation record this service hangs state
// off. The TOM framework is the source of truth; only the fields the
// orchestrator reads are carried.
type Observation struct {
	ID         int64
	TargetName string
	Facility   string
	ProgramID  string
	CreatedAt  time.Time
}

func (o Observation) Validate() error {
	if o.ID <= 0 {
		return errors.New("observation id is required")
	}
	if strings.TrimSpace(o.TargetName) == "" {
		return errors.New("target name is required")
	}
	if strings.TrimSpace(o.Facility) == "" {
		return errors.New("facility is required")
	}
	return nil
}

// RawDir is the on-disk directory holding the observation's raw data
// products, relative to the media root.
func (o Observation) RawDir() string {
	return filepath.Join(o.TargetName, o.Facility, observationDirName(o.ID))
}

func observationDirName(id int64) string {
	return "observation-" + strconv.FormatInt(id, 10)
}

// DataProduct is a single file registered against an observation. ProductID
// is the file path relative to the media root and is unique per observation.
type DataProduct struct {
	ID            int64
	ProductID     string
	ObservationID int64
	TargetName    string
	StoragePath   string
	TypeTag       string
	Processed     bool
	CreatedAt     time.Time
}

func (p DataProduct) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return errors.New("product id is required")
	}
	if p.ObservationID <= 0 {
		return errors.New("observation id is required")
	}
	if strings.TrimSpace(p.StoragePath) == "" {
		return errors.New("storage path is required")
	}
	return nil
}

// Name returns the file basename of the product.
func (p DataProduct) Name() string {
	return filepath.Base(p.StoragePath)
}

// Credentials is an opaque per-user per-service secret record. The service
// only ever reads these; user CRUD lives in the TOM.
type Credentials struct {
	UserID   int64
	Service  string
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Username) == "" && strings.TrimSpace(c.Password) == ""
}
