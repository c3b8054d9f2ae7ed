package fetchq

import "time"

type options struct {
	subject  string
	version  int
	priority int
	delay    time.Duration
	at       time.Time
}

// Option is a function that configures a document during Push.
type Option func(*options)

// Subject sets the document subject. If not provided, a random UUID will be generated.
func Subject(s string) Option {
	return func(o *options) {
		o.subject = s
	}
}

// Version sets the payload schema version. Workers only pick documents of their own version.
func Version(v int) Option {
	return func(o *options) {
		o.version = v
	}
}

// Priority stores an informational priority on the document.
func Priority(p int) Option {
	return func(o *options) {
		o.priority = p
	}
}

// Delay plans the first iteration after the specified duration.
func Delay(d time.Duration) Option {
	return func(o *options) {
		o.delay = d
	}
}

// At plans the first iteration at an absolute time. It takes precedence over Delay.
func At(t time.Time) Option {
	return func(o *options) {
		o.at = t
	}
}

func (o *options) nextIteration(now time.Time) time.Time {
	if !o.at.IsZero() {
		return o.at
	}
	return now.Add(o.delay)
}
