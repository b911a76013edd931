// Package session tracks where each user is in a multi-step conversation.
package session

import (
	"hash/fnv"
	"maps"
	"sync"
)

// Action is the operation a session is collecting input for.
type Action string

const (
	ActionIdle           Action = "idle"
	ActionCaseSummary    Action = "case_summary"
	ActionGenerateReport Action = "generate_report"
	ActionClosingCase    Action = "closing_case"
	ActionEscalatingCase Action = "escalating_case"
	ActionDynamicReport  Action = "dynamic_report"
)

// Step is what the session waits for next. It only has meaning relative to
// the session's Action.
type Step string

const (
	StepNone           Step = ""
	StepAwaitingCaseID Step = "awaiting_case_id"
	StepAwaitingReason Step = "awaiting_reason"
	StepAwaitingPrompt Step = "awaiting_prompt"
)

// Collected field names.
const (
	FieldCaseID = "case_id"
	FieldReason = "reason"
)

// Session is one user's conversation state.
type Session struct {
	Action Action
	Step   Step
	Fields map[string]string
}

// Idle is the state of a user with nothing in progress.
func Idle() Session {
	return Session{Action: ActionIdle}
}

// IsIdle reports whether s has nothing in progress.
func (s Session) IsIdle() bool {
	return s.Action == ActionIdle || s.Action == ""
}

// Field returns a collected field.
func (s Session) Field(name string) string {
	return s.Fields[name]
}

// With returns a copy of s with the field set.
func (s Session) With(name, value string) Session {
	fields := make(map[string]string, len(s.Fields)+1)
	maps.Copy(fields, s.Fields)
	fields[name] = value
	s.Fields = fields
	return s
}

func (s Session) advance(step Step) Session {
	s.Step = step
	return s
}

func (s Session) clone() Session {
	if s.Fields != nil {
		s.Fields = maps.Clone(s.Fields)
	}
	return s
}

const shardCount = 32

// Store holds sessions keyed by user, striped over independently locked
// shards. Idle sessions are not stored.
type Store struct {
	shards [shardCount]shard
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]Session)
	}
	return s
}

func (s *Store) shard(user string) *shard {
	h := fnv.New32a()
	h.Write([]byte(user))
	return &s.shards[h.Sum32()%shardCount]
}

// Get returns a copy of the user's session, or Idle.
func (s *Store) Get(user string) Session {
	sh := s.shard(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[user]
	if !ok {
		return Idle()
	}
	return sess.clone()
}

// Put stores sess for user. Storing an idle session clears the user.
func (s *Store) Put(user string, sess Session) {
	sh := s.shard(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sess.IsIdle() {
		delete(sh.sessions, user)
		return
	}
	sh.sessions[user] = sess.clone()
}

// Reset clears user's session.
func (s *Store) Reset(user string) {
	s.Put(user, Idle())
}

// Len returns the number of users with a session in progress.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
