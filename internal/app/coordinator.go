package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/metrics"
)

// Coordinator routes commands to live sessions and owns their lifetime.
type Coordinator struct {
	sessions  SessionRepository
	quizzes   QuizStore
	events    Broadcaster
	lifecycle LifecycleSink
	clock     Clock
	settings  Settings
	log       *zap.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Option customises a Coordinator.
type Option func(*Coordinator)

func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithSettings(settings Settings) Option {
	return func(c *Coordinator) { c.settings = settings }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLifecycle(sink LifecycleSink) Option {
	return func(c *Coordinator) { c.lifecycle = sink }
}

// WithBroadcaster sets where session events are delivered.
func WithBroadcaster(events Broadcaster) Option {
	return func(c *Coordinator) { c.events = events }
}

func NewCoordinator(sessions SessionRepository, quizzes QuizStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessions:  sessions,
		quizzes:   quizzes,
		events:    nopBroadcaster{},
		lifecycle: nopLifecycle{},
		clock:     systemClock{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	c.settings = c.settings.withDefaults()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Close stops every live session loop.
func (c *Coordinator) Close() {
	c.cancel()
}

// Join registers or reconnects a participant, creating the session on first join.
func (c *Coordinator) Join(ctx context.Context, code, userID, username string) (Snapshot, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.TrimSpace(userID) == "" || strings.TrimSpace(username) == "" {
		return Snapshot{}, fmt.Errorf("%w: code, userId and username are required", domain.ErrBadRequest)
	}

	// A join can race with a session that is shutting down; the second
	// attempt lands on a fresh instance.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		quiz, err := c.quizzes.FindByCode(ctx, code)
		if err != nil {
			return Snapshot{}, err
		}
		if quiz.Status == domain.QuizCompleted {
			return Snapshot{}, fmt.Errorf("%w: quiz already completed", domain.ErrInvalidTransition)
		}

		session := c.sessions.GetOrCreate(code, func() *Session { return c.newSession(code, quiz.CreatedBy) })
		snap, err := request[Snapshot](ctx, session, joinCmd{userID: userID, username: strings.TrimSpace(username)})
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return snap, err
		}
		lastErr = err
	}
	return Snapshot{}, lastErr
}

// Start begins the first question. Only the creator may start.
func (c *Coordinator) Start(ctx context.Context, code, userID string) (Snapshot, error) {
	session, err := c.session(code)
	if err != nil {
		return Snapshot{}, err
	}
	return request[Snapshot](ctx, session, startCmd{userID: userID})
}

// SubmitAnswer scores an answer for the question currently open.
func (c *Coordinator) SubmitAnswer(ctx context.Context, code, userID string, questionIndex int, answer string) (AnswerResult, error) {
	session, err := c.session(code)
	if err != nil {
		return AnswerResult{}, err
	}
	return request[AnswerResult](ctx, session, submitCmd{userID: userID, index: questionIndex, answer: answer})
}

// End completes an active session early and returns the final ranking.
func (c *Coordinator) End(ctx context.Context, code, userID string) ([]domain.LeaderboardEntry, error) {
	session, err := c.session(code)
	if err != nil {
		return nil, err
	}
	return request[[]domain.LeaderboardEntry](ctx, session, endCmd{userID: userID})
}

// Leave disconnects a participant. Unknown sessions and participants are ignored.
func (c *Coordinator) Leave(ctx context.Context, code, userID string) error {
	session, err := c.session(code)
	if err != nil {
		return nil
	}
	_, err = session.send(ctx, leaveCmd{userID: userID})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}

// Snapshot returns the current view of a live session.
func (c *Coordinator) Snapshot(ctx context.Context, code string) (Snapshot, error) {
	session, err := c.session(code)
	if err != nil {
		return Snapshot{}, err
	}
	return request[Snapshot](ctx, session, snapshotCmd{})
}

func (c *Coordinator) session(code string) (*Session, error) {
	session, ok := c.sessions.Get(strings.ToUpper(strings.TrimSpace(code)))
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (c *Coordinator) newSession(code, creator string) *Session {
	s := &Session{
		code:        code,
		creator:     creator,
		settings:    c.settings,
		store:       c.quizzes,
		events:      c.events,
		sink:        c.lifecycle,
		clock:       c.clock,
		log:         c.log.With(zap.String("code", code)),
		metrics:     c.metrics,
		cmds:        make(chan envelope, commandBuffer),
		done:        make(chan struct{}),
		ctx:         c.ctx,
		status:      StatusWaiting,
		byID:        make(map[string]*player),
		submissions: make(map[int]map[string]struct{}),
	}
	s.onClose = func(closed *Session) {
		c.sessions.Remove(closed.code, closed)
		c.metrics.ActiveSessions.Dec()
		closed.log.Debug("session evicted")
	}
	c.metrics.ActiveSessions.Inc()
	c.metrics.SessionTransitions.WithLabelValues(string(StatusWaiting)).Inc()
	go s.run()
	return s
}
