package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

const codeAttempts = 10

// QuizStore keeps quizzes in process memory. Useful for tests and single-node demos.
type QuizStore struct {
	mu      sync.RWMutex
	quizzes map[string]*domain.Quiz
	now     func() time.Time
}

func NewQuizStore(seed ...domain.Quiz) *QuizStore {
	s := &QuizStore{
		quizzes: make(map[string]*domain.Quiz),
		now:     time.Now,
	}
	for _, quiz := range seed {
		q := cloneQuiz(quiz)
		s.quizzes[q.Code] = &q
	}
	return s
}

func (s *QuizStore) CreateQuiz(_ context.Context, quiz domain.Quiz) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < codeAttempts; i++ {
		code, err := domain.GenerateCode()
		if err != nil {
			return "", err
		}
		if _, taken := s.quizzes[code]; taken {
			continue
		}
		q := cloneQuiz(quiz)
		q.Code = code
		if q.Status == "" {
			q.Status = domain.QuizPending
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = s.now()
		}
		q.UpdatedAt = q.CreatedAt
		s.quizzes[code] = &q
		return code, nil
	}
	return "", fmt.Errorf("%w: could not allocate a unique quiz code", domain.ErrConflict)
}

func (s *QuizStore) FindByCode(_ context.Context, code string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[code]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return cloneQuiz(*q), nil
}

func (s *QuizStore) AddParticipant(_ context.Context, code string, participant domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[code]
	if !ok {
		return domain.ErrQuizNotFound
	}
	for _, p := range q.Participants {
		if p.UserID == participant.UserID {
			return nil
		}
	}
	q.Participants = append(q.Participants, participant)
	q.UpdatedAt = s.now()
	return nil
}

func (s *QuizStore) IncrementScore(_ context.Context, code, userID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[code]
	if !ok {
		return 0, domain.ErrQuizNotFound
	}
	for i := range q.Participants {
		if q.Participants[i].UserID == userID {
			q.Participants[i].Score += delta
			q.UpdatedAt = s.now()
			return q.Participants[i].Score, nil
		}
	}
	return 0, domain.ErrParticipantNotFound
}

func (s *QuizStore) SetScores(_ context.Context, code string, scores map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[code]
	if !ok {
		return domain.ErrQuizNotFound
	}
	for i := range q.Participants {
		q.Participants[i].Score = scores[q.Participants[i].UserID]
	}
	q.UpdatedAt = s.now()
	return nil
}

func (s *QuizStore) AppendScoreRecord(_ context.Context, code string, record domain.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[code]
	if !ok {
		return domain.ErrQuizNotFound
	}
	q.Scores = append(q.Scores, record)
	return nil
}

func (s *QuizStore) SetStatus(_ context.Context, code string, status domain.QuizStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[code]
	if !ok {
		return domain.ErrQuizNotFound
	}
	q.Status = status
	q.UpdatedAt = s.now()
	return nil
}

// ListSummaries returns quizzes newest first.
func (s *QuizStore) ListSummaries(_ context.Context) ([]domain.QuizSummary, error) {
	s.mu.RLock()
	quizzes := make([]*domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		quizzes = append(quizzes, q)
	}
	sort.Slice(quizzes, func(i, j int) bool {
		if !quizzes[i].CreatedAt.Equal(quizzes[j].CreatedAt) {
			return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt)
		}
		return quizzes[i].Code < quizzes[j].Code
	})
	out := make([]domain.QuizSummary, len(quizzes))
	for i, q := range quizzes {
		out[i] = domain.QuizSummary{
			Code:             q.Code,
			Title:            q.Title,
			Category:         q.Category,
			Status:           q.Status,
			CreatedBy:        q.CreatedBy,
			ParticipantCount: len(q.Participants),
		}
	}
	s.mu.RUnlock()
	return out, nil
}

func cloneQuiz(q domain.Quiz) domain.Quiz {
	out := q
	out.Questions = make([]domain.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		out.Questions[i] = question
	}
	out.Participants = append([]domain.Participant(nil), q.Participants...)
	out.Scores = append([]domain.ScoreRecord(nil), q.Scores...)
	return out
}
