package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// QuizCache caches quiz lookups with TTL to avoid repeated store hits.
// Writes go straight to the wrapped store and drop the cached entry.
type QuizCache struct {
	app.QuizStore

	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedQuiz
	// bumped by every write; a load only fills the cache if it is unchanged
	gens map[string]uint64
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(store app.QuizStore, ttl time.Duration) *QuizCache {
	return &QuizCache{
		QuizStore: store,
		ttl:       ttl,
		clock:     time.Now,
		cache:     make(map[string]cachedQuiz),
		gens:      make(map[string]uint64),
	}
}

func (r *QuizCache) FindByCode(ctx context.Context, code string) (domain.Quiz, error) {
	if quiz, ok := r.lookup(code); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(code, func() (interface{}, error) {
		if quiz, ok := r.lookup(code); ok {
			return quiz, nil
		}

		r.mu.RLock()
		gen := r.gens[code]
		r.mu.RUnlock()

		quiz, err := r.QuizStore.FindByCode(ctx, code)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		if r.gens[code] == gen {
			r.cache[code] = cachedQuiz{
				quiz:      quiz,
				expiresAt: r.clock().Add(r.ttlWithJitter()),
			}
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return cloneQuiz(result.(domain.Quiz)), nil
}

func (r *QuizCache) AddParticipant(ctx context.Context, code string, participant domain.Participant) error {
	defer r.Invalidate(code)
	return r.QuizStore.AddParticipant(ctx, code, participant)
}

func (r *QuizCache) IncrementScore(ctx context.Context, code, userID string, delta int) (int, error) {
	defer r.Invalidate(code)
	return r.QuizStore.IncrementScore(ctx, code, userID, delta)
}

func (r *QuizCache) SetScores(ctx context.Context, code string, scores map[string]int) error {
	defer r.Invalidate(code)
	return r.QuizStore.SetScores(ctx, code, scores)
}

func (r *QuizCache) AppendScoreRecord(ctx context.Context, code string, record domain.ScoreRecord) error {
	defer r.Invalidate(code)
	return r.QuizStore.AppendScoreRecord(ctx, code, record)
}

func (r *QuizCache) SetStatus(ctx context.Context, code string, status domain.QuizStatus) error {
	defer r.Invalidate(code)
	return r.QuizStore.SetStatus(ctx, code, status)
}

// Invalidate forgets the cached copy of code. Loads already in flight keep
// their result to themselves.
func (r *QuizCache) Invalidate(code string) {
	r.mu.Lock()
	delete(r.cache, code)
	r.gens[code]++
	r.mu.Unlock()
	r.sf.Forget(code)
}

func (r *QuizCache) lookup(code string) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[code]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Quiz{}, false
	}
	return cloneQuiz(entry.quiz), true
}

func (r *QuizCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
