package state

// DefaultMaxHistory is the default cap on retained history, in bytes.
const DefaultMaxHistory = 10 << 20

// DefaultHistoryFactor is the default multiple of the initialization
// sequence size below which the history cap cannot be set.
const DefaultHistoryFactor = 2

// Option configures a Tracker.
type Option func(*Tracker)

// WithLocalUser sets the id of the user this replica belongs to. It only
// affects the mine flag of notifications and EndRemoteContexts. Servers
// leave it at 0.
func WithLocalUser(id uint8) Option {
	return func(t *Tracker) {
		t.localID = id
	}
}

// WithMaxHistory sets the history cap in bytes. The cap is still clamped
// to the initialization sequence size times the history factor.
func WithMaxHistory(bytes int) Option {
	return func(t *Tracker) {
		t.requestedMax = bytes
	}
}

// WithHistoryFactor sets how many times the initialization sequence size
// the history cap must at least be. Values below 1 are treated as 1.
func WithHistoryFactor(n int) Option {
	return func(t *Tracker) {
		t.factor = max(n, 1)
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		t.observers = append(t.observers, o)
	}
}
