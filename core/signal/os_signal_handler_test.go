package signal

import (
	"context"
	"syscall"
	"testing"
)

func newTestHandler() (*OSSignalHandler, context.Context, *int) {
	ctx, cancel := context.WithCancel(context.Background())
	forced := new(int)
	h := NewOSSignalHandler(cancel, func() { *forced++ }, nil)
	return h, ctx, forced
}

func TestOSSignalHandler_StartStop(t *testing.T) {
	handler, _, _ := newTestHandler()

	handler.Start()
	if !handler.IsRunning() {
		t.Error("expected handler to be running")
	}

	handler.Stop()
	if handler.IsRunning() {
		t.Error("expected handler to be stopped")
	}
}

func TestOSSignalHandler_DoubleStartStop(t *testing.T) {
	handler, _, _ := newTestHandler()

	handler.Start()
	handler.Start()
	if !handler.IsRunning() {
		t.Error("expected handler to be running")
	}

	handler.Stop()
	handler.Stop()
	if handler.IsRunning() {
		t.Error("expected handler to be stopped")
	}
}

func TestOSSignalHandler_FirstInterruptCancels(t *testing.T) {
	handler, ctx, forced := newTestHandler()

	if handler.InterruptReceived() {
		t.Error("expected no interrupt initially")
	}

	handler.handleSignal(syscall.SIGINT)

	if ctx.Err() == nil {
		t.Error("expected context to be cancelled")
	}
	if !handler.InterruptReceived() {
		t.Error("expected interrupt to be recorded")
	}
	if *forced != 0 {
		t.Errorf("expected no force call, got %d", *forced)
	}
}

func TestOSSignalHandler_SecondSignalForces(t *testing.T) {
	handler, _, forced := newTestHandler()

	handler.handleSignal(syscall.SIGTERM)
	handler.handleSignal(syscall.SIGINT)

	if *forced != 1 {
		t.Errorf("expected one force call, got %d", *forced)
	}
}
