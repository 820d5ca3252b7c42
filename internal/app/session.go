package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/leaderboard"
	"quizroom-service/internal/metrics"
)

const commandBuffer = 64

// Settings tunes session behaviour.
type Settings struct {
	MinPlayers       int
	PointsPerCorrect int
	StoreTimeout     time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MinPlayers <= 0 {
		s.MinPlayers = 2
	}
	if s.PointsPerCorrect <= 0 {
		s.PointsPerCorrect = 10
	}
	if s.StoreTimeout <= 0 {
		s.StoreTimeout = 3 * time.Second
	}
	return s
}

// Commands consumed by the session loop.
type (
	joinCmd struct {
		userID   string
		username string
	}
	startCmd struct {
		userID string
	}
	submitCmd struct {
		userID string
		index  int
		answer string
	}
	endCmd struct {
		userID string
	}
	leaveCmd struct {
		userID string
	}
	snapshotCmd struct{}

	timerFired struct {
		generation uint64
	}
)

type envelope struct {
	cmd   any
	reply chan result
}

type result struct {
	value any
	err   error
}

type player struct {
	userID    string
	username  string
	score     int
	connected bool
	joinedAt  time.Time
}

type pendingWrite struct {
	op string
	fn func(ctx context.Context) error
}

// Session is a live quiz room. All state is owned by a single goroutine that
// applies commands and timer expirations one at a time.
type Session struct {
	code     string
	creator  string
	settings Settings
	store    QuizStore
	events   Broadcaster
	sink     LifecycleSink
	clock    Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
	onClose  func(*Session)

	cmds chan envelope
	done chan struct{}
	ctx  context.Context

	status      SessionStatus
	players     []*player
	byID        map[string]*player
	questions   []domain.Question
	current     int
	submissions map[int]map[string]struct{}
	timer       Timer
	generation  uint64
	pending     []pendingWrite
	scoresDirty bool
	closed      bool
}

func (s *Session) Code() string { return s.code }

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	defer func() {
		if s.onClose != nil {
			s.onClose(s)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.stopTimer()
			return
		case env := <-s.cmds:
			value, err := s.dispatch(env.cmd)
			if env.reply != nil {
				env.reply <- result{value: value, err: err}
			}
			if s.closed {
				return
			}
		}
	}
}

func (s *Session) dispatch(cmd any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session command panicked",
				zap.String("command", fmt.Sprintf("%T", cmd)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			value, err = nil, fmt.Errorf("internal error handling %T", cmd)
		}
	}()

	switch c := cmd.(type) {
	case joinCmd:
		return s.handleJoin(c)
	case startCmd:
		return s.handleStart(c)
	case submitCmd:
		return s.handleSubmit(c)
	case endCmd:
		return s.handleEnd(c)
	case leaveCmd:
		return nil, s.handleLeave(c)
	case snapshotCmd:
		return s.snapshot(), nil
	case timerFired:
		s.handleTimer(c)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown command %T", cmd)
	}
}

// send enqueues cmd and waits for its result. Commands that reach a session
// after it has shut down fail with ErrSessionNotFound.
func (s *Session) send(ctx context.Context, cmd any) (any, error) {
	env := envelope{cmd: cmd, reply: make(chan result, 1)}
	select {
	case s.cmds <- env:
	case <-s.done:
		return nil, domain.ErrSessionNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-env.reply:
		return r.value, r.err
	case <-s.done:
		select {
		case r := <-env.reply:
			return r.value, r.err
		default:
			return nil, domain.ErrSessionNotFound
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func request[T any](ctx context.Context, s *Session, cmd any) (T, error) {
	var zero T
	v, err := s.send(ctx, cmd)
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

func (s *Session) handleJoin(c joinCmd) (Snapshot, error) {
	if s.status == StatusCompleted {
		return Snapshot{}, fmt.Errorf("%w: quiz already completed", domain.ErrInvalidTransition)
	}

	if p, ok := s.byID[c.userID]; ok {
		if !p.connected {
			p.connected = true
			s.log.Info("participant reconnected", zap.String("user_id", c.userID))
			s.publishRoster()
		}
		return s.snapshot(), nil
	}

	p := &player{
		userID:    c.userID,
		username:  c.username,
		connected: true,
		joinedAt:  s.clock.Now(),
	}
	s.players = append(s.players, p)
	s.byID[p.userID] = p

	participant := domain.Participant{UserID: p.userID, Username: p.username, JoinedAt: p.joinedAt}
	s.persistOrQueue("add_participant", func(ctx context.Context) error {
		return s.store.AddParticipant(ctx, s.code, participant)
	})

	s.log.Info("participant joined", zap.String("user_id", c.userID), zap.String("status", string(s.status)))
	s.publishRoster()
	return s.snapshot(), nil
}

func (s *Session) handleStart(c startCmd) (Snapshot, error) {
	if c.userID != s.creator {
		return Snapshot{}, fmt.Errorf("%w: only the quiz creator can start", domain.ErrUnauthorized)
	}
	if s.status != StatusWaiting {
		return Snapshot{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, s.status)
	}
	if n := s.connectedCount(); n < s.settings.MinPlayers {
		return Snapshot{}, fmt.Errorf("%w: %d connected, %d required", domain.ErrNotEnoughPlayers, n, s.settings.MinPlayers)
	}

	var quiz domain.Quiz
	err := s.persist("find_quiz", func(ctx context.Context) error {
		var err error
		quiz, err = s.store.FindByCode(ctx, s.code)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load quiz: %w", err)
	}
	if len(quiz.Questions) == 0 {
		return Snapshot{}, fmt.Errorf("%w: quiz has no questions", domain.ErrBadRequest)
	}

	s.questions = quiz.Questions
	s.status = StatusActive
	s.current = 0
	s.submissions[0] = make(map[string]struct{})
	s.metrics.SessionTransitions.WithLabelValues(string(StatusActive)).Inc()

	// a new run starts from zero, whatever an earlier abandoned run left behind
	s.writeScores()

	if err := s.persist("set_status", func(ctx context.Context) error {
		return s.store.SetStatus(ctx, s.code, domain.QuizActive)
	}); err != nil {
		s.log.Warn("persist active status failed", zap.Error(err))
	}

	s.events.Publish(s.code, Event{
		Type:    EventStarted,
		Payload: StartedPayload{Questions: domain.SanitizeAll(s.questions)},
	})
	s.armTimer()
	s.notify(LifecycleEvent{Code: s.code, Status: StatusActive, Players: s.connectedCount(), At: s.clock.Now()})

	s.log.Info("session started", zap.Int("players", s.connectedCount()), zap.Int("questions", len(s.questions)))
	return s.snapshot(), nil
}

func (s *Session) handleSubmit(c submitCmd) (AnswerResult, error) {
	if s.status != StatusActive {
		return AnswerResult{}, fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, s.status)
	}
	p, ok := s.byID[c.userID]
	if !ok {
		return AnswerResult{}, domain.ErrParticipantNotFound
	}
	if c.index < 0 || c.index >= len(s.questions) {
		return AnswerResult{}, fmt.Errorf("%w: question index %d out of range", domain.ErrBadRequest, c.index)
	}
	if strings.TrimSpace(c.answer) == "" {
		return AnswerResult{}, fmt.Errorf("%w: answer is required", domain.ErrBadRequest)
	}
	if c.index != s.current {
		s.metrics.Answers.WithLabelValues("stale").Inc()
		return AnswerResult{}, domain.ErrStaleAnswer
	}
	answered := s.submissions[s.current]
	if _, dup := answered[c.userID]; dup {
		s.metrics.Answers.WithLabelValues("duplicate").Inc()
		return AnswerResult{}, domain.ErrDuplicateAnswer
	}

	correct := s.questions[c.index].IsCorrect(c.answer)
	awarded := 0
	if correct {
		awarded = s.settings.PointsPerCorrect
	}
	answered[c.userID] = struct{}{}
	p.score += awarded

	if awarded > 0 {
		s.writeScores()
	}
	record := domain.ScoreRecord{UserID: p.userID, Username: p.username, Score: p.score, SubmittedAt: s.clock.Now()}
	s.persistOrQueue("append_score", func(ctx context.Context) error {
		return s.store.AppendScoreRecord(ctx, s.code, record)
	})

	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	s.metrics.Answers.WithLabelValues(outcome).Inc()

	res := AnswerResult{QuestionIndex: c.index, Correct: correct, Awarded: awarded, Score: p.score}
	s.events.Publish(s.code, Event{Type: EventAnswerResult, To: p.userID, Payload: res})
	s.events.Publish(s.code, Event{
		Type:    EventParticipantSubmitted,
		Except:  p.userID,
		Payload: ParticipantSubmittedPayload{UserID: p.userID, Username: p.username, QuestionIndex: c.index},
	})
	return res, nil
}

func (s *Session) handleEnd(c endCmd) ([]domain.LeaderboardEntry, error) {
	if c.userID != s.creator {
		return nil, fmt.Errorf("%w: only the quiz creator can end", domain.ErrUnauthorized)
	}
	if s.status != StatusActive {
		return nil, fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, s.status)
	}
	return s.complete("ended"), nil
}

func (s *Session) handleLeave(c leaveCmd) error {
	p, ok := s.byID[c.userID]
	if !ok || !p.connected {
		return nil
	}
	p.connected = false
	s.log.Info("participant left", zap.String("user_id", c.userID))
	s.publishRoster()

	if s.connectedCount() == 0 {
		s.stopTimer()
		s.flushPending()
		s.closed = true
		s.log.Info("session abandoned", zap.String("status", string(s.status)))
	}
	return nil
}

func (s *Session) handleTimer(c timerFired) {
	if c.generation != s.generation || s.status != StatusActive {
		return
	}
	s.timer = nil

	if s.current >= len(s.questions)-1 {
		s.complete("completed")
		return
	}

	s.current++
	s.submissions[s.current] = make(map[string]struct{})
	s.armTimer()

	s.events.Publish(s.code, Event{Type: EventLeaderboard, Payload: s.board()})
	s.events.Publish(s.code, Event{
		Type: EventNextQuestion,
		Payload: NextQuestionPayload{
			Question:       s.questions[s.current].Sanitize(s.current),
			QuestionNumber: s.current + 1,
			TotalQuestions: len(s.questions),
		},
	})
}

// complete moves the session to its terminal state and schedules shutdown.
func (s *Session) complete(reason string) []domain.LeaderboardEntry {
	s.stopTimer()
	s.status = StatusCompleted
	ranking := s.ranking()

	s.scoresDirty = true
	s.flushPending()
	if err := s.persist("set_status", func(ctx context.Context) error {
		return s.store.SetStatus(ctx, s.code, domain.QuizCompleted)
	}); err != nil {
		s.log.Error("persist completed status failed", zap.Error(err))
	}

	s.events.Publish(s.code, Event{
		Type:    EventEnded,
		Payload: EndedPayload{Code: s.code, Reason: reason, FinalScores: ranking},
	})
	s.notify(LifecycleEvent{Code: s.code, Status: StatusCompleted, Players: len(s.players), Ranking: ranking, At: s.clock.Now()})
	s.metrics.SessionTransitions.WithLabelValues(string(StatusCompleted)).Inc()
	s.closed = true

	s.log.Info("session completed", zap.String("reason", reason), zap.Int("players", len(s.players)))
	return ranking
}

func (s *Session) armTimer() {
	s.stopTimer()
	s.generation++
	generation := s.generation
	limit := s.questions[s.current].TimeLimitDuration()
	s.timer = s.clock.AfterFunc(limit, func() {
		select {
		case s.cmds <- envelope{cmd: timerFired{generation: generation}}:
		case <-s.done:
		}
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

// persist runs fn with a bounded timeout and retries it once.
func (s *Session) persist(op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			s.metrics.StoreRetries.WithLabelValues(op).Inc()
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.settings.StoreTimeout)
		err = fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

// persistOrQueue keeps in-memory state authoritative: a write that still fails
// after its retry is queued and replayed when the session finishes.
func (s *Session) persistOrQueue(op string, fn func(ctx context.Context) error) {
	if err := s.persist(op, fn); err != nil {
		s.pending = append(s.pending, pendingWrite{op: op, fn: fn})
		s.metrics.PendingReconcile.Inc()
		s.log.Warn("store write queued for reconciliation", zap.String("op", op), zap.Error(err))
	}
}

func (s *Session) flushPending() {
	pending := s.pending
	s.pending = nil
	for _, w := range pending {
		if err := s.persist(w.op, w.fn); err != nil {
			s.log.Error("store reconciliation failed", zap.String("op", w.op), zap.Error(err))
		}
	}
	if s.scoresDirty {
		s.scoresDirty = false
		if err := s.persist("set_scores", s.scoresWrite()); err != nil {
			s.log.Error("store reconciliation failed", zap.String("op", "set_scores"), zap.Error(err))
		}
	}
}

// writeScores persists absolute totals, so a retry after a lost
// acknowledgement cannot count points twice.
func (s *Session) writeScores() {
	if err := s.persist("set_scores", s.scoresWrite()); err != nil {
		if !s.scoresDirty {
			s.metrics.PendingReconcile.Inc()
		}
		s.scoresDirty = true
		s.log.Warn("store write queued for reconciliation", zap.String("op", "set_scores"), zap.Error(err))
	}
}

func (s *Session) scoresWrite() func(ctx context.Context) error {
	scores := make(map[string]int, len(s.players))
	for _, p := range s.players {
		scores[p.userID] = p.score
	}
	return func(ctx context.Context) error {
		return s.store.SetScores(ctx, s.code, scores)
	}
}

func (s *Session) notify(ev LifecycleEvent) {
	ctx, cancel := context.WithTimeout(s.ctx, s.settings.StoreTimeout)
	defer cancel()
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.log.Warn("lifecycle publish failed", zap.String("status", string(ev.Status)), zap.Error(err))
	}
}

func (s *Session) publishRoster() {
	s.events.Publish(s.code, Event{Type: EventRoster, Payload: RosterPayload{Players: s.roster()}})
}

func (s *Session) connectedCount() int {
	n := 0
	for _, p := range s.players {
		if p.connected {
			n++
		}
	}
	return n
}

func (s *Session) roster() []PlayerView {
	out := make([]PlayerView, 0, len(s.players))
	for _, p := range s.players {
		if p.connected {
			out = append(out, PlayerView{UserID: p.userID, Username: p.username, Score: p.score})
		}
	}
	return out
}

func (s *Session) ranking() []domain.LeaderboardEntry {
	standings := make([]leaderboard.Standing, len(s.players))
	for i, p := range s.players {
		standings[i] = leaderboard.Standing{UserID: p.userID, Username: p.username, Score: p.score}
	}
	return leaderboard.Rank(standings, len(s.questions), s.settings.PointsPerCorrect)
}

func (s *Session) board() domain.Leaderboard {
	return domain.Leaderboard{Code: s.code, Entries: s.ranking(), UpdatedAt: s.clock.Now()}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Code:            s.code,
		Status:          s.status,
		CreatedBy:       s.creator,
		CurrentQuestion: s.current,
		TotalQuestions:  len(s.questions),
		Players:         s.roster(),
		Leaderboard:     s.ranking(),
	}
	if s.status == StatusActive {
		q := s.questions[s.current].Sanitize(s.current)
		snap.Question = &q
	}
	return snap
}
