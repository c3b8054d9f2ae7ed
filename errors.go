package fetchq

import "errors"

// ErrUnrecognizedResolution is returned when a handler returns a value that is
// not one of the five Resolution variants (including nil).
var ErrUnrecognizedResolution = errors.New("fetchq: unrecognized resolution")

// ErrInvalidConfig is returned by NewWorker and NewServer for unusable configurations.
var ErrInvalidConfig = errors.New("fetchq: invalid config")

// ErrDuplicateDoc is returned when Push is called with a subject that already exists in the queue.
var ErrDuplicateDoc = errors.New("fetchq: duplicate document subject")

// ErrDocNotFound is returned when a document with the specified subject is not found.
var ErrDocNotFound = errors.New("fetchq: document not found")

// ErrDocNotActive is returned when a resolution targets a document that is not
// currently picked, e.g. one already completed or whose lease was reclaimed.
var ErrDocNotActive = errors.New("fetchq: document not active")

// ErrUnknownStatus is returned when an invalid status is used.
var ErrUnknownStatus = errors.New("fetchq: unknown status")
