// Package leaderboard derives ranked views from player standings.
package leaderboard

import (
	"math"
	"sort"

	"quizroom-service/internal/domain"
)

// Standing is a player's score in join order.
type Standing struct {
	UserID   string
	Username string
	Score    int
}

// Summary holds aggregate figures over a ranked board.
type Summary struct {
	AverageScore float64 `json:"averageScore"`
	HighestScore int     `json:"highestScore"`
	LowestScore  int     `json:"lowestScore"`
}

// Rank orders standings by score descending. Equal scores keep their input
// order, so callers pass standings in join order.
func Rank(standings []Standing, questionCount, pointsPerQuestion int) []domain.LeaderboardEntry {
	ordered := make([]Standing, len(standings))
	copy(ordered, standings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	maxScore := questionCount * pointsPerQuestion
	entries := make([]domain.LeaderboardEntry, len(ordered))
	for i, s := range ordered {
		entries[i] = domain.LeaderboardEntry{
			Rank:       i + 1,
			UserID:     s.UserID,
			Username:   s.Username,
			Score:      s.Score,
			Percentage: percentage(s.Score, maxScore),
		}
	}
	return entries
}

// FromParticipants ranks a persisted roster.
func FromParticipants(quiz domain.Quiz, pointsPerQuestion int) []domain.LeaderboardEntry {
	standings := make([]Standing, len(quiz.Participants))
	for i, p := range quiz.Participants {
		standings[i] = Standing{UserID: p.UserID, Username: p.Username, Score: p.Score}
	}
	return Rank(standings, len(quiz.Questions), pointsPerQuestion)
}

// Summarize computes average, highest and lowest score of a ranked board.
func Summarize(entries []domain.LeaderboardEntry) Summary {
	if len(entries) == 0 {
		return Summary{}
	}
	total := 0
	for _, e := range entries {
		total += e.Score
	}
	return Summary{
		AverageScore: round2(float64(total) / float64(len(entries))),
		HighestScore: entries[0].Score,
		LowestScore:  entries[len(entries)-1].Score,
	}
}

// History returns score records newest first.
func History(records []domain.ScoreRecord) []domain.ScoreRecord {
	out := make([]domain.ScoreRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

func percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return round2(float64(score) / float64(maxScore) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
