package domain

import "time"

// QuestionKind enumerates the supported answer formats.
type QuestionKind string

const (
	KindSingle   QuestionKind = "single"
	KindMultiple QuestionKind = "multiple"
	KindText     QuestionKind = "text"
)

// QuizStatus is the persisted lifecycle of a quiz definition.
type QuizStatus string

const (
	QuizPending   QuizStatus = "pending"
	QuizActive    QuizStatus = "active"
	QuizCompleted QuizStatus = "completed"
)

// DefaultTimeLimit applies to questions created without an explicit limit.
const DefaultTimeLimit = 30

// Question is one entry of a quiz. CorrectAnswer never leaves the server.
type Question struct {
	Text          string       `json:"text" yaml:"text"`
	Kind          QuestionKind `json:"type" yaml:"type"`
	Options       []string     `json:"options" yaml:"options"`
	CorrectAnswer string       `json:"correctAnswer" yaml:"correctAnswer"`
	TimeLimit     int          `json:"timeLimit" yaml:"timeLimit"` // seconds, defaults to 30 if zero
}

// TimeLimitDuration returns the question time limit, applying the default.
func (q Question) TimeLimitDuration() time.Duration {
	if q.TimeLimit <= 0 {
		return DefaultTimeLimit * time.Second
	}
	return time.Duration(q.TimeLimit) * time.Second
}

// SanitizedQuestion is what clients see while a quiz runs.
type SanitizedQuestion struct {
	Index     int          `json:"index"`
	Text      string       `json:"text"`
	Kind      QuestionKind `json:"type"`
	Options   []string     `json:"options"`
	TimeLimit int          `json:"timeLimit"`
}

// Sanitize strips the correct answer.
func (q Question) Sanitize(index int) SanitizedQuestion {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	limit := q.TimeLimit
	if limit <= 0 {
		limit = DefaultTimeLimit
	}
	return SanitizedQuestion{
		Index:     index,
		Text:      q.Text,
		Kind:      q.Kind,
		Options:   options,
		TimeLimit: limit,
	}
}

// SanitizeAll strips answers from every question, keeping order.
func SanitizeAll(questions []Question) []SanitizedQuestion {
	out := make([]SanitizedQuestion, len(questions))
	for i, q := range questions {
		out[i] = q.Sanitize(i)
	}
	return out
}

// Participant is a persisted roster entry for a quiz.
type Participant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ScoreRecord is an append-only audit entry written on every accepted submission.
type ScoreRecord struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Quiz is the stored quiz definition together with its roster and score history.
type Quiz struct {
	Code         string        `json:"code"`
	Title        string        `json:"title"`
	Category     string        `json:"category"`
	CreatedBy    string        `json:"createdBy"`
	CreatorName  string        `json:"creatorName"`
	Status       QuizStatus    `json:"status"`
	Questions    []Question    `json:"questions"`
	Participants []Participant `json:"participants"`
	Scores       []ScoreRecord `json:"scores"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// QuizSummary is the list view of a quiz.
type QuizSummary struct {
	Code             string     `json:"code"`
	Title            string     `json:"title"`
	Category         string     `json:"category"`
	Status           QuizStatus `json:"status"`
	CreatedBy        string     `json:"createdBy"`
	ParticipantCount int        `json:"participantCount"`
}

// Identity is the resolved caller of a realtime or REST request.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank       int     `json:"rank"`
	UserID     string  `json:"userId"`
	Username   string  `json:"username"`
	Score      int     `json:"score"`
	Percentage float64 `json:"percentage"`
}

// Leaderboard captures the ordered scoreboard for a quiz.
type Leaderboard struct {
	Code      string             `json:"code"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
