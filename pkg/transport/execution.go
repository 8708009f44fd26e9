package transport

import (
	"context"
	"sync"

	"github.com/go-go-golems/chatstate/pkg/conversation"
)

// Outcome is the result of a finished exchange.
type Outcome struct {
	// Message is the assistant message produced by the exchange, if any.
	Message *conversation.Message
	Stopped bool
}

// ExecutionHandle represents a single in-flight exchange.
//
// It is cancelable and waitable. The exchange is always driven by context
// cancellation.
type ExecutionHandle struct {
	ConversationID string
	ExchangeID     string
	Request        *Request

	done chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	out     Outcome
	err     error
}

func newExecutionHandle(conversationID, exchangeID string, req *Request, cancel context.CancelFunc) *ExecutionHandle {
	return &ExecutionHandle{
		ConversationID: conversationID,
		ExchangeID:     exchangeID,
		Request:        req,
		done:           make(chan struct{}),
		cancel:         cancel,
	}
}

func (h *ExecutionHandle) setResult(out Outcome, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	if h.stopped {
		out.Stopped = true
		err = nil
	}
	h.out = out
	h.err = err
	close(h.done)
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = nil
}

func (h *ExecutionHandle) markStopped() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

// Cancel cancels the in-flight exchange. It is safe to call multiple times.
func (h *ExecutionHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the exchange completes. A stopped exchange returns
// without error and Outcome.Stopped set.
func (h *ExecutionHandle) Wait() (Outcome, error) {
	if h == nil {
		return Outcome{}, ErrExecutionHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out, h.err
}

// Done is closed when the exchange has completed.
func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

// IsRunning reports whether the exchange appears to still be running.
func (h *ExecutionHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
