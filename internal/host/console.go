package host

import (
	"fmt"
	"io"
	"sync"

	"talkinghead/internal/cli/scheme/colours"
)

// ConsoleReporter prints reported values and failures for the CLI, and remembers the
// last of each so a command can wait on them.
type ConsoleReporter struct {
	out io.Writer

	mu        sync.Mutex
	lastValue *ValuePayload
	lastError *ErrorPayload
	reported  chan struct{}
}

func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out, reported: make(chan struct{}, 1)}
}

func (r *ConsoleReporter) Report(sessionID, handle string) {
	r.mu.Lock()
	r.lastValue = &ValuePayload{SessionID: sessionID, Handle: handle}
	r.mu.Unlock()

	fmt.Fprintf(r.out, "%s %s\n", colours.Success.Sprint("🔊 speaking"), colours.Handle.Sprint(handle))
	r.notify()
}

func (r *ConsoleReporter) Fail(sessionID string, err error) {
	r.mu.Lock()
	r.lastError = &ErrorPayload{SessionID: sessionID, Kind: ErrorKind(err), Message: err.Error()}
	r.mu.Unlock()

	fmt.Fprintf(r.out, "%s %s\n", colours.Error.Sprintf("❌ %s:", ErrorKind(err)), err.Error())
	r.notify()
}

func (r *ConsoleReporter) notify() {
	select {
	case r.reported <- struct{}{}:
	default:
	}
}

// Reported fires after each value or failure.
func (r *ConsoleReporter) Reported() <-chan struct{} {
	return r.reported
}

func (r *ConsoleReporter) LastValue() (ValuePayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastValue == nil {
		return ValuePayload{}, false
	}
	return *r.lastValue, true
}

func (r *ConsoleReporter) LastError() (ErrorPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastError == nil {
		return ErrorPayload{}, false
	}
	return *r.lastError, true
}
