package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizroom-service/internal/domain"
)

const codeAttempts = 10

// QuizStore persists quizzes in Postgres. Questions are kept as JSONB on the
// quiz row; roster and score history live in their own tables.
type QuizStore struct {
	pool *pgxpool.Pool
}

func NewQuizStore(pool *pgxpool.Pool) *QuizStore {
	return &QuizStore{pool: pool}
}

func (s *QuizStore) CreateQuiz(ctx context.Context, quiz domain.Quiz) (string, error) {
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return "", fmt.Errorf("marshal questions: %w", err)
	}
	createdAt := quiz.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := quiz.Status
	if status == "" {
		status = domain.QuizPending
	}

	for i := 0; i < codeAttempts; i++ {
		code, err := domain.GenerateCode()
		if err != nil {
			return "", err
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO quizzes (code, title, category, created_by, creator_name, status, questions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (code) DO NOTHING`,
			code, quiz.Title, quiz.Category, quiz.CreatedBy, quiz.CreatorName, string(status), questions, createdAt,
		)
		if err != nil {
			return "", fmt.Errorf("insert quiz: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique quiz code", domain.ErrConflict)
}

func (s *QuizStore) FindByCode(ctx context.Context, code string) (domain.Quiz, error) {
	var (
		quiz      domain.Quiz
		status    string
		questions []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT code, title, category, created_by, creator_name, status, questions, created_at, updated_at
		FROM quizzes WHERE code = $1`, code,
	).Scan(&quiz.Code, &quiz.Title, &quiz.Category, &quiz.CreatedBy, &quiz.CreatorName, &status, &questions, &quiz.CreatedAt, &quiz.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	quiz.Status = domain.QuizStatus(status)
	if err := json.Unmarshal(questions, &quiz.Questions); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal questions: %w", err)
	}

	if quiz.Participants, err = s.participants(ctx, code); err != nil {
		return domain.Quiz{}, err
	}
	if quiz.Scores, err = s.scores(ctx, code); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (s *QuizStore) participants(ctx context.Context, code string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, username, score, joined_at
		FROM quiz_participants WHERE quiz_code = $1 ORDER BY seq`, code)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.UserID, &p.Username, &p.Score, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *QuizStore) scores(ctx context.Context, code string) ([]domain.ScoreRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, username, score, submitted_at
		FROM quiz_scores WHERE quiz_code = $1 ORDER BY id`, code)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoreRecord
	for rows.Next() {
		var r domain.ScoreRecord
		if err := rows.Scan(&r.UserID, &r.Username, &r.Score, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *QuizStore) AddParticipant(ctx context.Context, code string, participant domain.Participant) error {
	joinedAt := participant.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO quiz_participants (quiz_code, user_id, username, score, joined_at)
		SELECT code, $2, $3, $4, $5 FROM quizzes WHERE code = $1
		ON CONFLICT (quiz_code, user_id) DO NOTHING`,
		code, participant.UserID, participant.Username, participant.Score, joinedAt,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureQuiz(ctx, code)
	}
	return nil
}

func (s *QuizStore) IncrementScore(ctx context.Context, code, userID string, delta int) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		UPDATE quiz_participants SET score = score + $3
		WHERE quiz_code = $1 AND user_id = $2
		RETURNING score`, code, userID, delta,
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrParticipantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment score: %w", err)
	}
	return total, nil
}

func (s *QuizStore) SetScores(ctx context.Context, code string, scores map[string]int) error {
	if scores == nil {
		scores = map[string]int{}
	}
	payload, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE quiz_participants
		SET score = COALESCE(($2::jsonb ->> user_id)::int, 0)
		WHERE quiz_code = $1`, code, string(payload),
	)
	if err != nil {
		return fmt.Errorf("set scores: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureQuiz(ctx, code)
	}
	return nil
}

func (s *QuizStore) AppendScoreRecord(ctx context.Context, code string, record domain.ScoreRecord) error {
	submittedAt := record.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quiz_scores (quiz_code, user_id, username, score, submitted_at)
		VALUES ($1, $2, $3, $4, $5)`,
		code, record.UserID, record.Username, record.Score, submittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert score record: %w", err)
	}
	return nil
}

func (s *QuizStore) SetStatus(ctx context.Context, code string, status domain.QuizStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE quizzes SET status = $2, updated_at = now() WHERE code = $1`, code, string(status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *QuizStore) ListSummaries(ctx context.Context) ([]domain.QuizSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.code, q.title, q.category, q.status, q.created_by, COUNT(p.user_id)
		FROM quizzes q
		LEFT JOIN quiz_participants p ON p.quiz_code = q.code
		GROUP BY q.code
		ORDER BY q.created_at DESC, q.code`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	out := []domain.QuizSummary{}
	for rows.Next() {
		var (
			summary domain.QuizSummary
			status  string
			count   int64
		)
		if err := rows.Scan(&summary.Code, &summary.Title, &summary.Category, &status, &summary.CreatedBy, &count); err != nil {
			return nil, fmt.Errorf("scan quiz summary: %w", err)
		}
		summary.Status = domain.QuizStatus(status)
		summary.ParticipantCount = int(count)
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *QuizStore) ensureQuiz(ctx context.Context, code string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quizzes WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("check quiz: %w", err)
	}
	if !exists {
		return domain.ErrQuizNotFound
	}
	return nil
}
