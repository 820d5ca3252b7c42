package app

import "quizroom-service/internal/domain"

// SessionStatus is the live state of a session.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// EventType names an outbound realtime event.
type EventType string

const (
	EventRoster               EventType = "roster"
	EventStarted              EventType = "started"
	EventNextQuestion         EventType = "nextQuestion"
	EventAnswerResult         EventType = "answerResult"
	EventParticipantSubmitted EventType = "participantSubmitted"
	EventLeaderboard          EventType = "leaderboard"
	EventEnded                EventType = "ended"
)

// Event is produced by a session for the gateway. With To set only that
// identity receives it; with Except set everyone but that identity does.
type Event struct {
	Type    EventType
	To      string
	Except  string
	Payload any
}

// PlayerView is a roster entry as clients see it.
type PlayerView struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type RosterPayload struct {
	Players []PlayerView `json:"players"`
}

type StartedPayload struct {
	Questions []domain.SanitizedQuestion `json:"questions"`
}

type NextQuestionPayload struct {
	Question       domain.SanitizedQuestion `json:"question"`
	QuestionNumber int                      `json:"questionNumber"`
	TotalQuestions int                      `json:"totalQuestions"`
}

// AnswerResult is the private outcome of an accepted submission.
type AnswerResult struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	Awarded       int  `json:"awarded"`
	Score         int  `json:"score"`
}

type ParticipantSubmittedPayload struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	QuestionIndex int    `json:"questionIndex"`
}

type EndedPayload struct {
	Code        string                    `json:"code"`
	Reason      string                    `json:"reason"`
	FinalScores []domain.LeaderboardEntry `json:"finalScores"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Code            string                    `json:"code"`
	Status          SessionStatus             `json:"status"`
	CreatedBy       string                    `json:"createdBy"`
	CurrentQuestion int                       `json:"currentQuestion"`
	TotalQuestions  int                       `json:"totalQuestions"`
	Question        *domain.SanitizedQuestion `json:"question,omitempty"`
	Players         []PlayerView              `json:"players"`
	Leaderboard     []domain.LeaderboardEntry `json:"leaderboard"`
}
