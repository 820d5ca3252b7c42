package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
)

// markerTimeout bounds every marker write so a slow Redis never stalls joins.
const markerTimeout = 500 * time.Millisecond

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Session loops live in this process; the local map is authoritative.
//   - Redis holds a liveness marker per code naming the owning node, so other
//     nodes (and operators) can see where a room is running.
//   - Marker writes happen outside the lock; a failed write is logged and
//     repaired by the next Refresh.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	node   string
	log    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration, node string) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		node:     node,
		log:      zap.NewNop(),
		sessions: make(map[string]*app.Session),
	}
}

// WithLogger sets the logger used for marker failures.
func (s *SessionStore) WithLogger(log *zap.Logger) *SessionStore {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *SessionStore) GetOrCreate(code string, create func() *app.Session) *app.Session {
	s.mu.Lock()
	if session, ok := s.sessions[code]; ok {
		s.mu.Unlock()
		return session
	}
	session := create()
	s.sessions[code] = session
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := s.client.Set(ctx, key(code), s.node, s.ttl).Err(); err != nil {
		s.log.Warn("set session marker failed", zap.String("code", code), zap.Error(err))
		return session
	}
	// the session may have been removed while the marker was in flight
	if current, ok := s.Get(code); !ok || current != session {
		s.clearMarker(code)
	}
	return session
}

func (s *SessionStore) Get(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	return session, ok
}

func (s *SessionStore) Remove(code string, session *app.Session) {
	s.mu.Lock()
	current, ok := s.sessions[code]
	if !ok || current != session {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, code)
	s.mu.Unlock()

	s.clearMarker(code)
}

func (s *SessionStore) clearMarker(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := unlockScript.Run(ctx, s.client, []string{key(code)}, s.node).Err(); err != nil {
		s.log.Warn("clear session marker failed", zap.String("code", code), zap.Error(err))
	}
}

// Owner reports which node holds the live session for code, if any.
func (s *SessionStore) Owner(ctx context.Context, code string) (string, bool, error) {
	node, err := s.client.Get(ctx, key(code)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return node, true, nil
}

// Refresh extends the liveness markers of every local session.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	codes := make([]string, 0, len(s.sessions))
	for code := range s.sessions {
		codes = append(codes, code)
	}
	s.mu.RUnlock()

	if len(codes) == 0 || s.ttl <= 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, code := range codes {
		pipe.Set(ctx, key(code), s.node, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// unlockScript deletes the marker only when this node still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func key(code string) string {
	return "quiz:session:" + code
}
