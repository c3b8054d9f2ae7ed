package fetchq

import "context"

// HandlerContext exposes the running worker to handlers.
type HandlerContext struct {
	// WorkerID is "<name>-<index>".
	WorkerID string
	Name     string
	Index    int
	Queue    string
	Version  int
	// Store is the engine the worker picks from; handlers may use it to drop
	// documents or resolve other active ones.
	Store  Store
	Logger Logger
}

type handlerCtxKey struct{}

func withHandlerContext(parent context.Context, hc *HandlerContext) context.Context {
	return context.WithValue(parent, handlerCtxKey{}, hc)
}

// HandlerContextFrom returns the HandlerContext of the worker invoking the
// handler. ok is false outside a worker.
func HandlerContextFrom(ctx context.Context) (*HandlerContext, bool) {
	hc, ok := ctx.Value(handlerCtxKey{}).(*HandlerContext)
	return hc, ok && hc != nil
}
