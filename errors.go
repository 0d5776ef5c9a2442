package synapsd

import (
	"errors"
	"fmt"

	"github.com/canvas-server/synapsd/backup"
	"github.com/canvas-server/synapsd/bitmap"
	"github.com/canvas-server/synapsd/blobstore"
	"github.com/canvas-server/synapsd/checksum"
	"github.com/canvas-server/synapsd/internal/docstore"
	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/schema"
)

var (
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("synapsd: index closed")
	// ErrNotFound is returned for unknown documents, checksums and schemas.
	ErrNotFound = errors.New("synapsd: not found")
	// ErrInvalidID is returned for id 0 and ids outside the configured range.
	ErrInvalidID = errors.New("synapsd: invalid document id")
	// ErrInvalidDocument is returned when a document fails schema validation.
	ErrInvalidDocument = errors.New("synapsd: invalid document")
	// ErrDuplicate is returned when content already belongs to another document.
	ErrDuplicate = errors.New("synapsd: duplicate content")
	// ErrIDSpaceExhausted is returned when no id is left below the range maximum.
	ErrIDSpaceExhausted = errors.New("synapsd: id space exhausted")
	// ErrNoBackupStore is returned by Backup and Restore when backups are disabled.
	ErrNoBackupStore = errors.New("synapsd: no backup store configured")
	// ErrCodecMismatch is returned by Open when the index was written with
	// another document codec.
	ErrCodecMismatch = errors.New("synapsd: codec mismatch")
)

// ValidationError reports a document rejected by its schema.
//
// It matches ErrInvalidDocument with errors.Is; the schema error is
// reachable through errors.As.
type ValidationError struct {
	Schema string
	cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("synapsd: invalid document for schema %q: %v", e.Schema, e.cause)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrInvalidDocument, e.cause} }

// StageError reports which sub-store failed during a write. The whole
// write was rolled back.
type StageError struct {
	Stage string
	cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("synapsd: %s: %v", e.Stage, e.cause)
}

func (e *StageError) Unwrap() error { return e.cause }

// Write stages.
const (
	stageAllocate  = "allocate"
	stageDocuments = "documents"
	stageChecksums = "checksums"
	stageContexts  = "contexts"
	stageFeatures  = "features"
	stageUniverse  = "universe"
	stageFTS       = "fts"
)

func staged(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, cause: err}
}

var public = []error{
	ErrClosed,
	ErrNotFound,
	ErrInvalidID,
	ErrInvalidDocument,
	ErrDuplicate,
	ErrIDSpaceExhausted,
	ErrNoBackupStore,
	ErrCodecMismatch,
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range public {
		if errors.Is(err, target) {
			return err
		}
	}

	if errors.Is(err, kv.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	// Not found unification.
	if errors.Is(err, docstore.ErrNotFound) ||
		errors.Is(err, checksum.ErrNotFound) ||
		errors.Is(err, kv.ErrNotFound) ||
		errors.Is(err, blobstore.ErrNotFound) ||
		errors.Is(err, backup.ErrNoBackup) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, checksum.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	if errors.Is(err, bitmap.ErrOutOfRange) {
		return fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if errors.Is(err, docstore.ErrIDSpaceExhausted) {
		return fmt.Errorf("%w: %w", ErrIDSpaceExhausted, err)
	}
	if errors.Is(err, schema.ErrUnknownSchema) ||
		errors.Is(err, schema.ErrValidation) ||
		errors.Is(err, checksum.ErrInvalid) {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return err
}
