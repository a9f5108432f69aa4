package storage

import (
	"errors"

	"github.com/martinsuchenak/asicfleet/internal/model"
)

var (
	ErrScanNotFound      = errors.New("scan not found")
	ErrOperationNotFound = errors.New("operation not found")
)

// DefaultListLimit is used when a list call passes a non-positive limit.
const DefaultListLimit = 50

// Storage keeps the history of scans and bulk operations.
type Storage interface {
	SaveScan(scan *model.Scan) error
	GetScan(id string) (*model.Scan, error)
	ListScans(limit int) ([]model.Scan, error)

	SaveOperation(op *model.Operation) error
	GetOperation(id string) (*model.Operation, error)
	ListOperations(limit int) ([]model.Operation, error)

	SaveSnapshot(scanID string, records []model.Record) error
	// LatestSnapshot returns the newest scan that has a snapshot, with the
	// records captured when it finished.
	LatestSnapshot() (*model.Scan, []model.Record, error)

	// Prune drops all but the newest keep scans and operations.
	Prune(keep int) error
	Close() error
}
