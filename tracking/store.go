package tracking

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jasonlvhit/gocron"
	log "github.com/sirupsen/logrus"
)

type Store struct {
	opts     Options
	sessions map[string]*Session
	lock     sync.RWMutex
	now      func() time.Time
}

func NewStore(opts Options) *Store {
	return &Store{
		opts:     opts,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (st *Store) Reference() GeoReference {
	return st.opts.Reference
}

// Detached returns a session that shares the store's options but is not
// registered in it and never notifies or loads models.
func (st *Store) Detached() *Session {
	opts := st.opts
	opts.Notifier = nil
	opts.Loader = nil
	return st.newSession(uuid.NewString(), opts)
}

func (st *Store) Create() *Session {
	s := st.newSession(uuid.NewString(), st.opts)

	st.lock.Lock()
	st.sessions[s.ID] = s
	st.lock.Unlock()

	log.WithField("session", s.ID).Info("Session created")
	return s
}

func (st *Store) Get(id string) (*Session, error) {
	st.lock.RLock()
	defer st.lock.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetOrCreate is used by transports where the client names its own session.
func (st *Store) GetOrCreate(id string) *Session {
	st.lock.Lock()
	defer st.lock.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		s = st.newSession(id, st.opts)
		st.sessions[id] = s
		log.WithField("session", id).Info("Session created")
	}
	return s
}

func (st *Store) Delete(id string) bool {
	st.lock.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.lock.Unlock()

	if ok {
		s.Close()
		log.WithField("session", id).Info("Session deleted")
	}
	return ok
}

func (st *Store) IDs() []string {
	st.lock.RLock()
	defer st.lock.RUnlock()

	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evict drops the sessions that received nothing for longer than idle.
func (st *Store) Evict(idle time.Duration) int {
	limit := st.now().Add(-idle)

	st.lock.Lock()
	var evicted []*Session
	for id, s := range st.sessions {
		if s.idleSince().Before(limit) {
			evicted = append(evicted, s)
			delete(st.sessions, id)
		}
	}
	remaining := len(st.sessions)
	st.lock.Unlock()

	for _, s := range evicted {
		s.Close()
		log.WithField("session", s.ID).Infof("Session evicted after %s idle", idle)
	}
	if len(evicted) > 0 {
		log.Debugf("Evicted %d sessions, %d remaining", len(evicted), remaining)
	}
	return len(evicted)
}

// StartJanitor evicts idle sessions every `every`. Call the returned func to
// stop it.
func (st *Store) StartJanitor(every time.Duration, idle time.Duration) (func(), error) {
	seconds := uint64(every / time.Second)
	if seconds == 0 {
		seconds = 1
	}

	s := gocron.NewScheduler()
	if err := s.Every(seconds).Seconds().Do(st.Evict, idle); err != nil {
		return nil, fmt.Errorf("schedule eviction: %w", err)
	}
	stopped := s.Start()

	log.Debugf("Evicting sessions idle for %s every %ds", idle, seconds)
	return func() {
		s.Clear()
		close(stopped)
	}, nil
}

func (st *Store) newSession(id string, opts Options) *Session {
	s := NewSession(id, opts)
	s.now = st.now
	s.lastSeen = st.now()
	return s
}
