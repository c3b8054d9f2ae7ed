package fetchq

import "context"

// Handler processes one document and declares its outcome. Returning an error
// (or panicking) rejects the document with AnyRefID.
type Handler func(ctx context.Context, doc *Doc) (Resolution, error)

// Middleware wraps a Handler to provide cross-cutting concerns.
type Middleware func(Handler) Handler

// Chain wraps h with mws. Middlewares are executed in the order given.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
