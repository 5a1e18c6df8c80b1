// ABOUTME: Owns all per-session mutable state: turn lock, acting agent, speech pipeline
// ABOUTME: Entries are created lazily on first use and dropped explicitly on archive

package conversation

import (
	"sync"

	"github.com/2389/murmur-gateway/internal/agent"
	"github.com/2389/murmur-gateway/internal/speech"
	"github.com/2389/murmur-gateway/internal/store"
)

// VoiceFactory builds the speech pipeline for a session.
type VoiceFactory func(sessionID string) *speech.Voice

// Session is the in-memory state of one conversation. Its turn lock
// serializes turns; the agent handle and transcript are only touched while
// holding it.
type Session struct {
	id         string
	turn       sync.Mutex
	agent      agent.Handle
	transcript *store.Transcript
	voice      *speech.Voice
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Voice returns the session's speech pipeline.
func (s *Session) Voice() *speech.Voice { return s.voice }

// Agent returns the agent that will handle the next turn. It blocks while a
// turn is running.
func (s *Session) Agent() agent.Handle {
	s.turn.Lock()
	defer s.turn.Unlock()
	return s.agent
}

// Registry maps session ids to Session state.
type Registry struct {
	index        *store.SessionIndex
	newVoice     VoiceFactory
	defaultAgent string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. Transcripts are resolved through
// index; newVoice builds speech pipelines.
func NewRegistry(index *store.SessionIndex, defaultAgent string, newVoice VoiceFactory) *Registry {
	return &Registry{
		index:        index,
		newVoice:     newVoice,
		defaultAgent: defaultAgent,
		sessions:     make(map[string]*Session),
	}
}

// Get returns the state for id, creating it on first use.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := &Session{
		id:         id,
		agent:      agent.Handle{Name: r.defaultAgent},
		transcript: r.index.Transcript(id),
		voice:      r.newVoice(id),
	}
	r.sessions[id] = s
	return s
}

// Lookup returns the state for id without creating it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Evict drops the state for id and stops its speech pipeline. A turn already
// running keeps its reference and finishes normally.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.voice.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close evicts every session.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Evict(id)
	}
}
