package adminbot

import "sync"

// convState tracks where the owner is inside a multi-step dialog. All
// dialogs run in the private admin chat, one at a time.
type convState int

const (
	stateIdle convState = iota
	stateAddGroup
	stateSetMessage
	stateDelayHours
	stateDelayMinutes
	stateDelaySeconds
	stateSchedTime
	stateSchedMessage
	stateEditTime
	stateEditMessage
)

type session struct {
	state convState

	dest  string
	index int

	hours   int
	minutes int

	pendingTime string
	newTime     *string
}

type sessions struct {
	mu sync.Mutex
	m  map[int64]*session
}

func newSessions() *sessions {
	return &sessions{m: make(map[int64]*session)}
}

func (s *sessions) get(chatID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		sess = &session{}
		s.m[chatID] = sess
	}
	return sess
}

func (s *sessions) reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[chatID] = &session{}
}
