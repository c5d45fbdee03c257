package lifecycle

import (
	"errors"
	"fmt"

	"labflow/internal/acceptance"
	"labflow/internal/store"
	"labflow/internal/workflow"
)

// Sentinel errors returned by the engine. Each carries an
// [acceptance.ErrorKind] so entry points can tell them apart.
var (
	// ErrNotActive indicates a transition targeted a record that is not
	// processing. Nothing is persisted.
	ErrNotActive = acceptance.NewError(acceptance.KindPrecondition, "station record is not processing")

	// ErrUnknownSection indicates the requested order has no section in the
	// item's workflow. Nothing is persisted.
	ErrUnknownSection = acceptance.NewError(acceptance.KindPrecondition, "workflow has no section at that order")

	// ErrInvalidParameters indicates captured values failed the section schema.
	ErrInvalidParameters = workflow.ErrInvalidParameters

	// ErrRecordNotFound indicates the station record id does not exist.
	ErrRecordNotFound = acceptance.NewError(acceptance.KindNotFound, "station record not found")

	// ErrBarcodeNotFound indicates no station record matches the scanned barcode.
	ErrBarcodeNotFound = acceptance.NewError(acceptance.KindNotFound, "no station record matches barcode")

	// ErrNotWaiting indicates the barcode matched records but none is waiting
	// for entry: the specimen is valid but out of sequence.
	ErrNotWaiting = acceptance.NewError(acceptance.KindNotWaiting, "no matching station record is waiting for entry")
)

// notFoundAs rewraps store.ErrNotFound as target, leaving other errors alone.
func notFoundAs(err, target error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", target, id)
	}
	return err
}
