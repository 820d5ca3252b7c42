package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// QuizCache caches quiz definitions in Redis and falls back to the wrapped store on a miss.
// Definitions are stored as: SET quiz:{code}:definition <json> PX ttl
// Writes go straight to the store, bump quiz:{code}:gen and DEL the cached
// copy. A load stores its result only if the generation it started under is
// still current.
type QuizCache struct {
	app.QuizStore

	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuizCache(client *redis.Client, store app.QuizStore, ttl time.Duration) *QuizCache {
	return &QuizCache{
		QuizStore: store,
		client:    client,
		ttl:       ttl,
	}
}

func (r *QuizCache) FindByCode(ctx context.Context, code string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, code); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(code, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.cached(ctx, code); ok {
			return quiz, nil
		}

		gen, genErr := r.generation(ctx, code)

		quiz, err := r.QuizStore.FindByCode(ctx, code)
		if err != nil {
			return domain.Quiz{}, err
		}

		if raw, err := json.Marshal(quiz); err == nil && genErr == nil {
			// best-effort; the store stays the source of truth
			_ = fillScript.Run(ctx, r.client,
				[]string{definitionKey(code), generationKey(code)},
				gen, raw, r.ttlWithJitter().Milliseconds(),
			).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizCache) AddParticipant(ctx context.Context, code string, participant domain.Participant) error {
	defer r.Invalidate(ctx, code)
	return r.QuizStore.AddParticipant(ctx, code, participant)
}

func (r *QuizCache) IncrementScore(ctx context.Context, code, userID string, delta int) (int, error) {
	defer r.Invalidate(ctx, code)
	return r.QuizStore.IncrementScore(ctx, code, userID, delta)
}

func (r *QuizCache) SetScores(ctx context.Context, code string, scores map[string]int) error {
	defer r.Invalidate(ctx, code)
	return r.QuizStore.SetScores(ctx, code, scores)
}

func (r *QuizCache) AppendScoreRecord(ctx context.Context, code string, record domain.ScoreRecord) error {
	defer r.Invalidate(ctx, code)
	return r.QuizStore.AppendScoreRecord(ctx, code, record)
}

func (r *QuizCache) SetStatus(ctx context.Context, code string, status domain.QuizStatus) error {
	defer r.Invalidate(ctx, code)
	return r.QuizStore.SetStatus(ctx, code, status)
}

// Invalidate drops the cached definition of code and fences off loads that
// started before it.
func (r *QuizCache) Invalidate(ctx context.Context, code string) {
	ctx = context.WithoutCancel(ctx)
	_, _ = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(code))
		pipe.Del(ctx, definitionKey(code))
		return nil
	})
	r.sf.Forget(code)
}

func (r *QuizCache) generation(ctx context.Context, code string) (string, error) {
	gen, err := r.client.Get(ctx, generationKey(code)).Result()
	if err == redis.Nil {
		return "0", nil
	}
	return gen, err
}

// fillScript caches a definition only while the generation is unchanged.
// KEYS: definition, generation. ARGV: expected generation, payload, ttl ms.
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

func (r *QuizCache) cached(ctx context.Context, code string) (domain.Quiz, bool) {
	raw, err := r.client.Get(ctx, definitionKey(code)).Bytes()
	if err != nil {
		// redis.Nil on a miss; other errors degrade to a store read
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func definitionKey(code string) string {
	return "quiz:" + code + ":definition"
}

func generationKey(code string) string {
	return "quiz:" + code + ":gen"
}

func (r *QuizCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
