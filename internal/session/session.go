// Package session keeps per-browser dashboard state between requests.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/evaluate"
)

// CookieName is the session cookie.
const CookieName = "podfinder_session"

// State is everything one dashboard session remembers. Callers read a copy
// with Get and write back through Update.
type State struct {
	ID string

	Query         string
	SearchResults []domain.SearchResult
	SearchVerdict *evaluate.Verdict

	Usernames []string
	Posts     []domain.SocialPost
	Selected  map[string]bool
	// PostVerdicts is keyed by username and only set in agentic mode.
	PostVerdicts map[string]evaluate.Verdict
	Method       domain.Method
	Records      []domain.AnalysisRecord
}

// SelectedIDs returns the selected post ids in post order.
func (s *State) SelectedIDs() []string {
	var ids []string
	for _, p := range s.Posts {
		if s.Selected[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Store holds sessions in a size-bounded LRU with a TTL.
type Store struct {
	cache  *expirable.LRU[string, *entry]
	secure bool
	ttl    time.Duration
}

// NewStore creates a store holding up to size sessions for ttl each.
func NewStore(size int, ttl time.Duration, secureCookie bool) *Store {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{cache: expirable.NewLRU[string, *entry](size, nil, ttl), secure: secureCookie, ttl: ttl}
}

// Create starts a fresh session.
func (s *Store) Create() string {
	id := uuid.NewString()
	s.cache.Add(id, &entry{state: State{ID: id, Selected: map[string]bool{}}})
	return id
}

// Get returns a copy of the session's state.
func (s *Store) Get(id string) (State, bool) {
	e, ok := s.cache.Get(id)
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state
	st.Selected = make(map[string]bool, len(e.state.Selected))
	for k, v := range e.state.Selected {
		st.Selected[k] = v
	}
	return st, true
}

// Update applies fn to the session state under the session's lock.
func (s *Store) Update(id string, fn func(*State)) bool {
	e, ok := s.cache.Get(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	if e.state.Selected == nil {
		e.state.Selected = map[string]bool{}
	}
	return true
}

// Clear resets the channel-analysis part of a session, keeping search results.
func (s *Store) Clear(id string) {
	s.Update(id, func(st *State) {
		st.Usernames = nil
		st.Posts = nil
		st.Selected = map[string]bool{}
		st.PostVerdicts = nil
		st.Records = nil
	})
}

// Delete drops a session entirely.
func (s *Store) Delete(id string) {
	s.cache.Remove(id)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

// FromRequest returns the session bound to the request cookie, creating one
// and setting the cookie when it is missing or expired.
func (s *Store) FromRequest(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil {
		if _, ok := s.cache.Get(c.Value); ok {
			return c.Value
		}
	}
	id := s.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
	return id
}
