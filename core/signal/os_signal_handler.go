// Package signal turns SIGINT/SIGTERM into session cancellation.
package signal

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// OSSignalHandler cancels the session on the first interrupt and calls the
// force hook on the second.
type OSSignalHandler struct {
	cancel context.CancelFunc
	force  func()
	logger *slog.Logger

	mu                sync.Mutex
	running           bool
	interruptReceived atomic.Bool
	stopCh            chan struct{}
	sigCh             chan os.Signal
}

func NewOSSignalHandler(cancel context.CancelFunc, force func(), logger *slog.Logger) *OSSignalHandler {
	if force == nil {
		force = func() { os.Exit(130) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OSSignalHandler{
		cancel: cancel,
		force:  force,
		logger: logger,
		stopCh: make(chan struct{}),
		sigCh:  make(chan os.Signal, 1),
	}
}

func (h *OSSignalHandler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}

	h.running = true
	signal.Notify(h.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go h.listen()
}

func (h *OSSignalHandler) listen() {
	for {
		select {
		case <-h.stopCh:
			return
		case sig := <-h.sigCh:
			h.handleSignal(sig)
		}
	}
}

func (h *OSSignalHandler) handleSignal(sig os.Signal) {
	if h.interruptReceived.Swap(true) {
		h.logger.Warn("second interrupt, forcing exit", "signal", sig.String())
		h.force()
		return
	}

	h.logger.Info("interrupt received, stopping session", "signal", sig.String())
	h.cancel()
}

func (h *OSSignalHandler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}

	signal.Stop(h.sigCh)
	close(h.stopCh)
	h.running = false
}

func (h *OSSignalHandler) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *OSSignalHandler) InterruptReceived() bool {
	return h.interruptReceived.Load()
}
