// Package gametest provides fakes for exercising a game host without a
// network.
package gametest

import (
	"sync"

	"github.com/LemmyAI/duelo/internal/protocol"
)

// Recorder is a Broadcaster that keeps everything the host sends.
type Recorder struct {
	mu        sync.Mutex
	snapshots []protocol.Snapshot
	sent      map[string][]protocol.Payload
	kicked    map[string]string
}

func NewRecorder() *Recorder {
	return &Recorder{
		sent:   make(map[string][]protocol.Payload),
		kicked: make(map[string]string),
	}
}

func (r *Recorder) Broadcast(p protocol.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := p.(*protocol.StateSync); ok {
		snap, err := s.Snapshot()
		if err == nil {
			r.snapshots = append(r.snapshots, snap)
		}
	}
}

func (r *Recorder) SendTo(connID string, p protocol.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[connID] = append(r.sent[connID], p)
}

func (r *Recorder) Kick(connID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicked[connID] = message
}

// Snapshots returns every broadcast snapshot in order.
func (r *Recorder) Snapshots() []protocol.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Snapshot(nil), r.snapshots...)
}

// Last returns the latest broadcast snapshot, or the zero value.
func (r *Recorder) Last() protocol.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return protocol.Snapshot{}
	}
	return r.snapshots[len(r.snapshots)-1]
}

// Errors returns the messages of ERROR payloads sent to connID.
func (r *Recorder) Errors(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.sent[connID] {
		if e, ok := p.(*protocol.Error); ok {
			out = append(out, e.Message)
		}
	}
	return out
}

// Sent returns everything sent directly to connID.
func (r *Recorder) Sent(connID string) []protocol.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Payload(nil), r.sent[connID]...)
}

// Kicked reports whether connID was kicked and with which message.
func (r *Recorder) Kicked(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.kicked[connID]
	return msg, ok
}
