package common

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn in a goroutine and logs instead of crashing on panic.
// Used for event delivery and background refreshes where a failure must not stop the server.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer RecoverAndLog(logger, name)
		fn()
	}()
}

// RecoverAndLog is a deferred panic handler that records the stack and continues
func RecoverAndLog(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, buf[:n])
		return
	}

	logger.Error().
		Str("goroutine", name).
		Str("panic", fmt.Sprintf("%v", r)).
		Str("stack", string(buf[:n])).
		Msg("Recovered from panic in goroutine")
}
