package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/leaderboard"
)

// QuizDetail is a quiz as returned to clients: answers stripped.
type QuizDetail struct {
	Code         string                     `json:"code"`
	Title        string                     `json:"title"`
	Category     string                     `json:"category"`
	CreatedBy    string                     `json:"createdBy"`
	CreatorName  string                     `json:"creatorName"`
	Status       domain.QuizStatus          `json:"status"`
	Questions    []domain.SanitizedQuestion `json:"questions"`
	Participants []domain.Participant       `json:"participants"`
	IsCreator    bool                       `json:"isCreator"`
}

// LeaderboardReport is the persisted final standing of a quiz.
type LeaderboardReport struct {
	Code           string                    `json:"code"`
	Title          string                    `json:"title"`
	Status         domain.QuizStatus         `json:"status"`
	TotalQuestions int                       `json:"totalQuestions"`
	Entries        []domain.LeaderboardEntry `json:"entries"`
	Summary        leaderboard.Summary       `json:"summary"`
	History        []domain.ScoreRecord      `json:"history"`
}

// CreateQuiz validates and stores a new quiz owned by creator.
func (c *Coordinator) CreateQuiz(ctx context.Context, creator domain.Identity, quiz domain.Quiz) (string, error) {
	quiz.CreatedBy = creator.UserID
	quiz.CreatorName = creator.Username
	quiz.Status = domain.QuizPending
	quiz.Participants = nil
	quiz.Scores = nil
	if err := quiz.Validate(); err != nil {
		return "", err
	}
	now := c.clock.Now()
	quiz.CreatedAt = now
	quiz.UpdatedAt = now

	code, err := c.quizzes.CreateQuiz(ctx, quiz)
	if err != nil {
		return "", fmt.Errorf("create quiz: %w", err)
	}
	c.log.Info("quiz created", zap.String("code", code), zap.String("created_by", creator.UserID), zap.Int("questions", len(quiz.Questions)))
	return code, nil
}

// Quiz returns the sanitized definition of a quiz as seen by viewerID.
func (c *Coordinator) Quiz(ctx context.Context, code, viewerID string) (QuizDetail, error) {
	quiz, err := c.quizzes.FindByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return QuizDetail{}, err
	}
	participants := quiz.Participants
	if participants == nil {
		participants = []domain.Participant{}
	}
	return QuizDetail{
		Code:         quiz.Code,
		Title:        quiz.Title,
		Category:     quiz.Category,
		CreatedBy:    quiz.CreatedBy,
		CreatorName:  quiz.CreatorName,
		Status:       quiz.Status,
		Questions:    domain.SanitizeAll(quiz.Questions),
		Participants: participants,
		IsCreator:    viewerID != "" && viewerID == quiz.CreatedBy,
	}, nil
}

// AdminQuiz returns the full definition, answer key included. Only the
// creator may see it.
func (c *Coordinator) AdminQuiz(ctx context.Context, code, viewerID string) (domain.Quiz, error) {
	quiz, err := c.quizzes.FindByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Quiz{}, err
	}
	if viewerID == "" || viewerID != quiz.CreatedBy {
		return domain.Quiz{}, fmt.Errorf("%w: only the quiz creator can view answers", domain.ErrUnauthorized)
	}
	return quiz, nil
}

// ListQuizzes returns every stored quiz summary.
func (c *Coordinator) ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error) {
	return c.quizzes.ListSummaries(ctx)
}

// Leaderboard ranks the persisted roster of a quiz, whether or not it is live.
func (c *Coordinator) Leaderboard(ctx context.Context, code string) (LeaderboardReport, error) {
	quiz, err := c.quizzes.FindByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return LeaderboardReport{}, err
	}
	entries := leaderboard.FromParticipants(quiz, c.settings.PointsPerCorrect)
	return LeaderboardReport{
		Code:           quiz.Code,
		Title:          quiz.Title,
		Status:         quiz.Status,
		TotalQuestions: len(quiz.Questions),
		Entries:        entries,
		Summary:        leaderboard.Summarize(entries),
		History:        leaderboard.History(quiz.Scores),
	}, nil
}
