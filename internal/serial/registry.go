package serial

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Info describes a live session.
type Info struct {
	ID        uuid.UUID `json:"id"`
	Port      string    `json:"port"`
	Baud      int       `json:"baud"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

// Registry tracks live sessions so they can be listed, notified and closed together.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// List returns the live sessions, oldest first.
func (r *Registry) List() []Info {
	sessions := r.snapshot()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Broadcast sends frame to every live session and returns how many accepted it.
func (r *Registry) Broadcast(frame string) int {
	sent := 0
	for _, s := range r.snapshot() {
		if err := s.Send(frame); err == nil {
			sent++
		}
	}
	return sent
}

// CloseAll ends every live session and waits for their teardown.
func (r *Registry) CloseAll() {
	sessions := r.snapshot()
	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		<-s.Done()
	}
}
