package toolstate

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/skillchat/internal/skill"
	"go.uber.org/zap"
)

// Store defaults.
const (
	DefaultTTL              = 60 * time.Minute
	DefaultMaxConversations = 1000
)

// StoreConfig tunes session retention.
type StoreConfig struct {
	TTL              time.Duration
	MaxConversations int
	MaxHistory       int
}

type session struct {
	mgr      *Manager
	lock     chan struct{}
	elem     *list.Element
	pins     int
	lastUsed time.Time
	restored bool
	deleted  bool
}

// Store maps conversation ids to Managers. Each conversation is used by at
// most one caller at a time; different conversations never block each other.
// Idle sessions expire after TTL and the least recently used idle session is
// evicted once MaxConversations is exceeded.
type Store struct {
	registry  *skill.Registry
	discovery *skill.Discovery
	snapshots Snapshotter
	cfg       StoreConfig
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	lru      *list.List
}

// NewStore creates a session store. snapshots may be nil.
func NewStore(registry *skill.Registry, discovery *skill.Discovery, snapshots Snapshotter, cfg StoreConfig, logger *zap.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = DefaultMaxConversations
	}
	return &Store{
		registry:  registry,
		discovery: discovery,
		snapshots: snapshots,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		sessions:  make(map[string]*session),
		lru:       list.New(),
	}
}

// Acquire returns the Manager for conversationID, creating it on first use,
// and holds it exclusively until release is called. Callers queue behind an
// active holder of the same id until ctx is done.
func (s *Store) Acquire(ctx context.Context, conversationID string) (*Manager, func(), error) {
	if conversationID == "" {
		return nil, nil, fmt.Errorf("acquire tool state: empty conversation id")
	}

	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = &session{
			mgr: NewManager(conversationID, s.registry, s.discovery, s.logger,
				WithMaxHistory(s.cfg.MaxHistory), WithClock(s.now)),
			lock: make(chan struct{}, 1),
		}
		sess.elem = s.lru.PushFront(conversationID)
		s.sessions[conversationID] = sess
	} else {
		s.lru.MoveToFront(sess.elem)
	}
	sess.pins++
	sess.lastUsed = s.now()
	s.evictOverflowLocked()
	s.mu.Unlock()

	select {
	case sess.lock <- struct{}{}:
	case <-ctx.Done():
		s.unpin(sess)
		return nil, nil, fmt.Errorf("acquire tool state %s: %w", conversationID, ctx.Err())
	}

	if !sess.restored {
		sess.restored = true
		s.restore(ctx, sess.mgr)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			deleted := sess.deleted
			s.mu.Unlock()
			if !deleted {
				s.persist(sess.mgr)
			}
			<-sess.lock
			s.unpin(sess)
		})
	}
	return sess.mgr, release, nil
}

func (s *Store) unpin(sess *session) {
	s.mu.Lock()
	sess.pins--
	sess.lastUsed = s.now()
	s.mu.Unlock()
}

func (s *Store) restore(ctx context.Context, m *Manager) {
	if s.snapshots == nil {
		return
	}
	st, found, err := s.snapshots.LoadToolState(ctx, m.ConversationID())
	if err != nil {
		s.logger.Warn("load tool state snapshot failed",
			zap.String("conversation", m.ConversationID()), zap.Error(err))
		return
	}
	if found {
		m.ImportState(st)
		s.logger.Debug("restored tool state",
			zap.String("conversation", m.ConversationID()),
			zap.Int("loaded", len(st.LoadedSkills)))
	}
}

func (s *Store) persist(m *Manager) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.snapshots.SaveToolState(ctx, m.ExportState()); err != nil {
		s.logger.Warn("save tool state snapshot failed",
			zap.String("conversation", m.ConversationID()), zap.Error(err))
	}
}

// evictOverflowLocked drops idle sessions from the LRU tail until the store
// fits MaxConversations. Pinned sessions are skipped.
func (s *Store) evictOverflowLocked() {
	for e := s.lru.Back(); e != nil && len(s.sessions) > s.cfg.MaxConversations; {
		prev := e.Prev()
		id := e.Value.(string)
		if sess := s.sessions[id]; sess.pins == 0 {
			s.removeLocked(id, sess)
			s.logger.Debug("evicted tool state", zap.String("conversation", id), zap.String("reason", "capacity"))
		}
		e = prev
	}
}

func (s *Store) removeLocked(id string, sess *session) {
	s.lru.Remove(sess.elem)
	delete(s.sessions, id)
}

// Sweep evicts idle sessions unused for longer than TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.cfg.TTL)
	n := 0
	for id, sess := range s.sessions {
		if sess.pins == 0 && sess.lastUsed.Before(cutoff) {
			s.removeLocked(id, sess)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("swept idle tool states", zap.Int("count", n))
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Get returns the live Manager for conversationID without acquiring it.
func (s *Store) Get(conversationID string) (*Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return nil, false
	}
	return sess.mgr, true
}

// Delete forgets a conversation, including its snapshot.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if ok {
		sess.deleted = true
		s.removeLocked(conversationID, sess)
	}
	s.mu.Unlock()
	if ok {
		sess.mgr.Reset()
	}
	if s.snapshots != nil {
		if err := s.snapshots.DeleteToolState(ctx, conversationID); err != nil {
			return fmt.Errorf("delete tool state %s: %w", conversationID, err)
		}
	}
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
