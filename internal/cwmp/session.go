package cwmp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State tracks where a session is in the per-visit protocol walk
type State int

const (
	StateAwaitingInform State = iota
	StateDispatchingTask
	StateAwaitingTaskResponse
	StateClosed
)

// String names the state for logs
func (s State) String() string {
	switch s {
	case StateAwaitingInform:
		return "AwaitingInform"
	case StateDispatchingTask:
		return "DispatchingTask"
	case StateAwaitingTaskResponse:
		return "AwaitingTaskResponse"
	case StateClosed:
		return "Closed"
	}
	return "Invalid"
}

// Session is the ephemeral state of one CWMP conversation: a chain of HTTP
// exchanges tied together by the session cookie. It borrows a device key and
// at most one in-flight task; it owns neither, and it is never persisted.
// Misbehaving firmware can post two exchanges with the same cookie
// concurrently, so every read-modify-write on the protocol state happens as
// one locked step.
type Session struct {
	ID        string
	CreatedAt time.Time
	Timeout   time.Duration

	mu            sync.Mutex
	serialNumber  string // bound once the first Inform is parsed
	state         State
	pendingTaskID string // the task currently sent and awaiting its response
	lastAccess    time.Time
}

// Touch updates the last access time
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = time.Now()
}

// Expired reports whether the session has been idle past its timeout
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess) > s.Timeout
}

// SerialNumber returns the device key bound to this session, or ""
func (s *Session) SerialNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialNumber
}

// State returns the current protocol state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bind attaches the session to a device after its Inform is parsed and
// readies it for dispatch
func (s *Session) Bind(serialNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serialNumber = serialNumber
	s.state = StateDispatchingTask
}

// MarkDispatched records the task just written out and awaits its response
func (s *Session) MarkDispatched(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingTaskID = taskID
	s.state = StateAwaitingTaskResponse
}

// TakeInFlight surrenders the in-flight task, moving the session back to
// dispatch. It returns "" unless a task response is actually awaited, so two
// racing exchanges can never both resolve the same task.
func (s *Session) TakeInFlight() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingTaskResponse {
		return ""
	}
	taskID := s.pendingTaskID
	s.pendingTaskID = ""
	s.state = StateDispatchingTask
	return taskID
}

// CloseAndTakeInFlight marks the session closed and surrenders whatever task
// is still in flight. At most one caller ever receives a given task ID.
func (s *Session) CloseAndTakeInFlight() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	taskID := s.pendingTaskID
	s.pendingTaskID = ""
	return taskID
}

// SessionTracker holds the live sessions, keyed by session ID. Sessions for
// different devices are fully independent; there is no cross-device lock a
// misbehaving device could stall.
type SessionTracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
}

// NewSessionTracker creates a tracker with the given idle timeout
func NewSessionTracker(timeout time.Duration) *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]*Session),
		timeout:  timeout,
	}
}

// Get returns the session with the given ID, or nil
func (t *SessionTracker) Get(id string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// Create registers a fresh session and returns it
func (t *SessionTracker) Create() *Session {
	now := time.Now()
	session := &Session{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		Timeout:    t.timeout,
		state:      StateAwaitingInform,
		lastAccess: now,
	}

	t.mu.Lock()
	t.sessions[session.ID] = session
	t.mu.Unlock()

	return session
}

// Remove drops a session from the tracker
func (t *SessionTracker) Remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// Count returns the number of live sessions
func (t *SessionTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// TakeBySerial removes and returns every session bound to the given device,
// except the one identified by exceptID. When a device opens a new
// conversation while an old one is still tracked (fresh TCP connection after
// a crash or NAT rebind), the old sessions are surrendered so their
// in-flight tasks can be requeued.
func (t *SessionTracker) TakeBySerial(serialNumber, exceptID string) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var taken []*Session
	for id, s := range t.sessions {
		if s.SerialNumber() == serialNumber && id != exceptID {
			taken = append(taken, s)
			delete(t.sessions, id)
		}
	}
	return taken
}

// TakeExpired removes and returns every session idle past its timeout.
// Absence of the expected follow-up request is the only end-of-session
// signal CWMP gives us, so the janitor sweeps these periodically.
func (t *SessionTracker) TakeExpired(now time.Time) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*Session
	for id, s := range t.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
			delete(t.sessions, id)
		}
	}
	return expired
}
