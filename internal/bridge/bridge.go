// Package bridge connects the annotator to the files it works on: it picks
// which score to open next and writes finished annotations out.
package bridge

import "errors"

// CorruptedPayload is saved in place of the annotations of a score marked
// corrupted.
const CorruptedPayload = "corrupted file"

var (
	// ErrUnknownFile is returned for a score that is not in the index.
	ErrUnknownFile = errors.New("bridge: file is not in the index")
	// ErrNoFiles is returned when the score directory holds no scores.
	ErrNoFiles = errors.New("bridge: no score files")
	// ErrClosed is returned by an Async bridge after Close.
	ErrClosed = errors.New("bridge: closed")
)

// Bridge is the persistence channel used by the annotator.
type Bridge interface {
	PickLastAnnotated() (string, error)
	PickNextFile(current string) (string, error)
	PickPreviousFile(current string) (string, error)
	// SaveToJSON writes payload, an annotation record or CorruptedPayload.
	SaveToJSON(scoreID string, payload any) error
	MarkAnnotated(scoreID string, complete bool) error
	FirstFile() (string, error)
	LastFile() (string, error)
}
