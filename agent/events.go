package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart    EventKind = "session_start"
	EventSessionEnd      EventKind = "session_end"
	EventDecisionRequest EventKind = "decision_request"
	EventProposal        EventKind = "proposal"
	EventActionStart     EventKind = "action_start"
	EventActionEnd       EventKind = "action_end"
	EventLoopDetection   EventKind = "loop_detection"
	EventHalt            EventKind = "halt"
	EventError           EventKind = "error"
)

// SessionEvent is a typed event emitted by the director.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers events to the host through a buffered channel.
// Events are dropped rather than block the director when the buffer is full.
type EventEmitter struct {
	mu     sync.Mutex
	ch     chan SessionEvent
	closed bool
}

// NewEventEmitter creates an emitter. bufferSize <= 0 means 256.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan SessionEvent, bufferSize)}
}

// Emit sends an event. A nil or closed emitter drops it.
func (e *EventEmitter) Emit(sessionID string, kind EventKind, data map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- SessionEvent{Kind: kind, Timestamp: time.Now(), SessionID: sessionID, Data: data}:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
