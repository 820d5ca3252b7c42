package leaderboard

import (
	"testing"
	"time"

	"quizroom-service/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRankIsStableDescending(t *testing.T) {
	entries := Rank([]Standing{
		{UserID: "p1", Username: "Ann", Score: 10},
		{UserID: "p2", Username: "Ben", Score: 20},
		{UserID: "p3", Username: "Cid", Score: 10},
		{UserID: "p4", Username: "Dee", Score: 0},
	}, 3, 10)

	require.Len(t, entries, 4)
	order := []string{entries[0].UserID, entries[1].UserID, entries[2].UserID, entries[3].UserID}
	require.Equal(t, []string{"p2", "p1", "p3", "p4"}, order)
	for i, e := range entries {
		require.Equal(t, i+1, e.Rank)
	}
	require.Equal(t, 66.67, entries[0].Percentage)
	require.Equal(t, 33.33, entries[1].Percentage)
	require.Equal(t, 0.0, entries[3].Percentage)
}

func TestRankWithoutQuestions(t *testing.T) {
	entries := Rank([]Standing{{UserID: "p1", Score: 0}}, 0, 10)
	require.Equal(t, 0.0, entries[0].Percentage)
}

func TestFromParticipantsTwoPlayerScenario(t *testing.T) {
	quiz := domain.Quiz{
		Questions: []domain.Question{{Text: "a"}, {Text: "b"}},
		Participants: []domain.Participant{
			{UserID: "P2", Username: "Two", Score: 10},
			{UserID: "P1", Username: "One", Score: 20},
		},
	}
	entries := FromParticipants(quiz, 10)
	require.Equal(t, "P1", entries[0].UserID)
	require.Equal(t, 1, entries[0].Rank)
	require.Equal(t, 100.0, entries[0].Percentage)
	require.Equal(t, "P2", entries[1].UserID)
	require.Equal(t, 2, entries[1].Rank)
	require.Equal(t, 50.0, entries[1].Percentage)
}

func TestSummarizeAndHistory(t *testing.T) {
	require.Equal(t, Summary{}, Summarize(nil))

	s := Summarize([]domain.LeaderboardEntry{{Score: 20}, {Score: 10}, {Score: 0}})
	require.Equal(t, Summary{AverageScore: 10, HighestScore: 20, LowestScore: 0}, s)

	now := time.Now()
	history := History([]domain.ScoreRecord{
		{UserID: "a", SubmittedAt: now.Add(-time.Minute)},
		{UserID: "b", SubmittedAt: now},
	})
	require.Equal(t, "b", history[0].UserID)
}
