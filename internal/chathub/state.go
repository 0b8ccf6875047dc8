package chathub

import (
	"fmt"
	"sync"
)

// SessionState is one participant's view of the chat lifecycle.
type SessionState int

const (
	StateNoSession SessionState = iota
	StateQueued
	StateActive
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition is an input to the state machine.
type Transition int

const (
	// TransitionQueued: the user joined the waiting queue.
	TransitionQueued Transition = iota
	// TransitionMatched: a session naming this user exists (direct match
	// result or push notification).
	TransitionMatched
	// TransitionEnded: the session was ended by either side.
	TransitionEnded
	// TransitionReset: the user left without a match.
	TransitionReset
)

// StateMachine owns one chat attempt's lifecycle:
//
//	NoSession → Queued → Active → Ended, with Ended → Queued on skip.
//
// It is the explicit replacement for ambient per-screen state: the owning
// context constructs one per attempt and feeds it events.
type StateMachine struct {
	mu        sync.Mutex
	state     SessionState
	sessionID string
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateNoSession}
}

// State returns the current state and the adopted session id, if any.
func (m *StateMachine) State() (SessionState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.sessionID
}

// Dispatch applies a transition and returns the resulting state. Handlers on
// the realtime bus are reentrant: a duplicate TransitionMatched for the
// session already adopted is a no-op, and an illegal transition is rejected
// without mutating anything.
func (m *StateMachine) Dispatch(t Transition, sessionID string) (SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch t {
	case TransitionQueued:
		if m.state != StateNoSession && m.state != StateEnded {
			return m.state, fmt.Errorf("cannot queue from %s", m.state)
		}
		m.state = StateQueued
		m.sessionID = ""

	case TransitionMatched:
		if m.state == StateActive {
			if sessionID == m.sessionID {
				return m.state, nil // duplicate notification, ignore
			}
			return m.state, fmt.Errorf("already active in session %s", m.sessionID)
		}
		if m.state != StateQueued {
			return m.state, fmt.Errorf("cannot activate from %s", m.state)
		}
		m.state = StateActive
		m.sessionID = sessionID

	case TransitionEnded:
		if m.state == StateEnded {
			return m.state, nil
		}
		if m.state != StateActive {
			return m.state, fmt.Errorf("cannot end from %s", m.state)
		}
		m.state = StateEnded

	case TransitionReset:
		m.state = StateNoSession
		m.sessionID = ""

	default:
		return m.state, fmt.Errorf("unknown transition %d", int(t))
	}

	return m.state, nil
}

// Adopt moves the machine into the session. Transports only learn of a queue
// join through the resulting match, so an idle machine passes through Queued
// on the way.
func (m *StateMachine) Adopt(sessionID string) error {
	if state, _ := m.State(); state == StateNoSession || state == StateEnded {
		if _, err := m.Dispatch(TransitionQueued, ""); err != nil {
			return err
		}
	}
	_, err := m.Dispatch(TransitionMatched, sessionID)
	return err
}

// Release records the session's end. A machine that never went active simply
// resets.
func (m *StateMachine) Release() {
	if _, err := m.Dispatch(TransitionEnded, ""); err != nil {
		m.Dispatch(TransitionReset, "")
	}
}

// ActiveSessionID returns the adopted session id while the machine is active,
// "" otherwise.
func (m *StateMachine) ActiveSessionID() string {
	state, id := m.State()
	if state != StateActive {
		return ""
	}
	return id
}
