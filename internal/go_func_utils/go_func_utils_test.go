package go_func_utils

import (
	"bytes"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "", 0)
	done := make(chan struct{})
	SafeGo(logger, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for goroutine")
	}
}

func TestSafe_LogsAndRepanics(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	fn := Safe(logger, func() error { panic("dongle gone") })
	assert.PanicsWithValue(t, "dongle gone", func() { _ = fn() })
	assert.Contains(t, buf.String(), "PANIC: dongle gone")
	assert.Contains(t, buf.String(), "go_func_utils")
}

func TestSafe_PassesError(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "", 0)
	want := errors.New("read failed")
	assert.ErrorIs(t, Safe(logger, func() error { return want })(), want)
	assert.NoError(t, Safe(logger, func() error { return nil })())
}
