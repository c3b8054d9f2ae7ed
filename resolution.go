package fetchq

import (
	"context"
	"fmt"
	"time"
)

// AnyRefID is the wildcard reject reference: the failure is not tied to a
// specific attempt. The worker uses it for unexpected handler faults.
const AnyRefID = "*"

// Action names the outcome a Resolution declares.
type Action string

const (
	ActionReschedule Action = "reschedule"
	ActionReject     Action = "reject"
	ActionKill       Action = "kill"
	ActionComplete   Action = "complete"
	ActionDrop       Action = "drop"
)

// Resolution is the outcome a handler declares for one document. The set of
// implementations is closed: Reschedule, Reject, Kill, Complete and Drop
// (values or pointers).
type Resolution interface {
	Action() Action
	resolution()
}

// Reschedule keeps the document alive and plans it again at NextIteration
// with Payload replacing the previous payload.
type Reschedule struct {
	NextIteration time.Time
	Payload       any
}

// Reject marks a retryable failure. RefID correlates retries; use AnyRefID
// when the failure is not tied to a particular attempt.
type Reject struct {
	Message string
	Details any
	RefID   string
}

// Kill marks the document as permanently failed. It stays inspectable.
type Kill struct {
	Payload any
}

// Complete marks the document as successfully processed.
type Complete struct {
	Payload any
}

// Drop removes the document from the queue.
type Drop struct{}

func (Reschedule) Action() Action { return ActionReschedule }
func (Reject) Action() Action     { return ActionReject }
func (Kill) Action() Action       { return ActionKill }
func (Complete) Action() Action   { return ActionComplete }
func (Drop) Action() Action       { return ActionDrop }

func (Reschedule) resolution() {}
func (Reject) resolution()     {}
func (Kill) resolution()       {}
func (Complete) resolution()   {}
func (Drop) resolution()       {}

// ErrorDetails is the Details value of the implicit reject issued when a
// handler fails.
type ErrorDetails struct {
	Message string `json:"message"`
	Err     string `json:"err"`
}

// faultMessage is the reject message used for handler faults.
const faultMessage = "worker exception"

// faultReject builds the implicit reject for a handler fault.
func faultReject(err error) Reject {
	return Reject{
		Message: faultMessage,
		Details: ErrorDetails{Message: err.Error(), Err: fmt.Sprintf("%+v", err)},
		RefID:   AnyRefID,
	}
}

// resolve issues exactly one store call for the declared outcome. Values that
// are not one of the variants (nil included) yield ErrUnrecognizedResolution
// without touching the store.
func resolve(ctx context.Context, s Store, queue string, doc *Doc, res Resolution) error {
	switch r := res.(type) {
	case *Reschedule:
		if r != nil {
			return resolve(ctx, s, queue, doc, *r)
		}
	case *Reject:
		if r != nil {
			return resolve(ctx, s, queue, doc, *r)
		}
	case *Kill:
		if r != nil {
			return resolve(ctx, s, queue, doc, *r)
		}
	case *Complete:
		if r != nil {
			return resolve(ctx, s, queue, doc, *r)
		}
	case *Drop:
		if r != nil {
			return resolve(ctx, s, queue, doc, *r)
		}
	case Reschedule:
		return wrapResolve(ActionReschedule, queue, doc, s.Reschedule(ctx, queue, doc.Subject, r.NextIteration, r.Payload))
	case Reject:
		return wrapResolve(ActionReject, queue, doc, s.Reject(ctx, queue, doc.Subject, r.Message, r.Details, r.RefID))
	case Kill:
		return wrapResolve(ActionKill, queue, doc, s.Kill(ctx, queue, doc.Subject, r.Payload))
	case Complete:
		return wrapResolve(ActionComplete, queue, doc, s.Complete(ctx, queue, doc.Subject, r.Payload))
	case Drop:
		return wrapResolve(ActionDrop, queue, doc, s.Drop(ctx, queue, doc.Subject))
	}
	return fmt.Errorf("%w: %T", ErrUnrecognizedResolution, res)
}

func wrapResolve(a Action, queue string, doc *Doc, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", a, queue, doc.Subject, err)
	}
	return nil
}
