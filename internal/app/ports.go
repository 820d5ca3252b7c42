package app

import (
	"context"
	"time"

	"quizroom-service/internal/domain"
)

// QuizStore persists quiz definitions, rosters and score history.
type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) (string, error)
	FindByCode(ctx context.Context, code string) (domain.Quiz, error)
	AddParticipant(ctx context.Context, code string, participant domain.Participant) error
	IncrementScore(ctx context.Context, code, userID string, delta int) (int, error)
	// SetScores overwrites every participant's score: listed users get their
	// value, everyone else is reset to zero. Replaying it is harmless.
	SetScores(ctx context.Context, code string, scores map[string]int) error
	AppendScoreRecord(ctx context.Context, code string, record domain.ScoreRecord) error
	SetStatus(ctx context.Context, code string, status domain.QuizStatus) error
	ListSummaries(ctx context.Context) ([]domain.QuizSummary, error)
}

// SessionRepository abstracts where live sessions are registered (in-memory, Redis, etc).
// create runs at most once per registered code; Remove only evicts the given instance.
type SessionRepository interface {
	GetOrCreate(code string, create func() *Session) *Session
	Get(code string) (*Session, bool)
	Remove(code string, session *Session)
}

// Broadcaster delivers session events to connected clients.
type Broadcaster interface {
	Publish(code string, event Event)
}

// LifecycleEvent is emitted when a session starts or completes.
type LifecycleEvent struct {
	Code    string                    `json:"code"`
	Status  SessionStatus             `json:"status"`
	Players int                       `json:"players"`
	Ranking []domain.LeaderboardEntry `json:"ranking,omitempty"`
	At      time.Time                 `json:"at"`
}

// LifecycleSink receives session lifecycle notifications (e.g. a message broker).
type LifecycleSink interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

type nopLifecycle struct{}

func (nopLifecycle) Publish(context.Context, LifecycleEvent) error { return nil }

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(string, Event) {}
