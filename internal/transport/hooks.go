package transport

import "sync"

// Hooks implements the handler bookkeeping shared by every Conn: frames
// buffered until a message handler exists, and a close handler that fires
// once no matter when it was registered.
type Hooks struct {
	deliverMu sync.Mutex

	mu       sync.Mutex
	message  MessageHandler
	pending  [][]byte
	onClose  CloseHandler
	closed   bool
	closeErr error
}

// SetMessage installs the message handler and flushes buffered frames to it.
func (h *Hooks) SetMessage(fn MessageHandler) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	h.message = fn
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	if fn == nil {
		return
	}
	for _, data := range pending {
		fn(data)
	}
}

// Deliver hands one inbound frame to the message handler, in order.
func (h *Hooks) Deliver(data []byte) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	fn := h.message
	if fn == nil {
		h.pending = append(h.pending, data)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	fn(data)
}

// SetClose installs the close handler. It runs right away if the
// connection has already closed.
func (h *Hooks) SetClose(fn CloseHandler) {
	h.mu.Lock()
	h.onClose = fn
	closed, err := h.closed, h.closeErr
	h.mu.Unlock()

	if closed && fn != nil {
		fn(err)
	}
}

// FireClose marks the connection closed and runs the close handler. Only
// the first call has any effect; it reports whether this call was it.
func (h *Hooks) FireClose(err error) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.closed = true
	h.closeErr = err
	fn := h.onClose
	h.mu.Unlock()

	if fn != nil {
		fn(err)
	}
	return true
}

// Closed reports whether FireClose has run.
func (h *Hooks) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
