package go_func_utils

import (
	"log"
	"runtime/debug"
)

// SafeGo runs fn in a new goroutine. A panic is written to logger with its
// stack before crashing, so it ends up in the log file and not only on a
// terminal nobody is watching.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer logPanic(logger)
		fn()
	}()
}

// Safe wraps an errgroup style function with the same panic logging as SafeGo
func Safe(logger *log.Logger, fn func() error) func() error {
	return func() error {
		defer logPanic(logger)
		return fn()
	}
}

func logPanic(logger *log.Logger) {
	if r := recover(); r != nil {
		logger.Printf("PANIC: %v\n%s", r, debug.Stack())
		panic(r)
	}
}
