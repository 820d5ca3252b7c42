package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizroom-service/internal/domain"
)

func TestQuizStoreCreateAssignsCode(t *testing.T) {
	ctx := context.Background()
	store := NewQuizStore()

	quiz := sampleQuiz()
	quiz.Code = ""
	code, err := store.CreateQuiz(ctx, quiz)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !domain.ValidCode(code) {
		t.Fatalf("unexpected code %q", code)
	}

	got, err := store.FindByCode(ctx, code)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.QuizPending || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected stored quiz %+v", got)
	}
}

func TestQuizStoreRosterAndScores(t *testing.T) {
	ctx := context.Background()
	store := NewQuizStore(sampleQuiz())

	p := domain.Participant{UserID: "u2", Username: "Bob", JoinedAt: time.Now()}
	if err := store.AddParticipant(ctx, "ABC123", p); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := store.AddParticipant(ctx, "ABC123", p); err != nil {
		t.Fatalf("re-add participant: %v", err)
	}

	total, err := store.IncrementScore(ctx, "ABC123", "u2", 10)
	if err != nil || total != 10 {
		t.Fatalf("increment: total=%d err=%v", total, err)
	}
	if _, err := store.IncrementScore(ctx, "ABC123", "ghost", 10); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
	if err := store.AppendScoreRecord(ctx, "ABC123", domain.ScoreRecord{UserID: "u2", Score: 10}); err != nil {
		t.Fatalf("append score: %v", err)
	}

	quiz, _ := store.FindByCode(ctx, "ABC123")
	if len(quiz.Participants) != 1 || quiz.Participants[0].Score != 10 || len(quiz.Scores) != 1 {
		t.Fatalf("unexpected quiz state %+v", quiz)
	}

	// absolute writes replace the running total and are safe to replay
	for i := 0; i < 2; i++ {
		if err := store.SetScores(ctx, "ABC123", map[string]int{"u2": 30}); err != nil {
			t.Fatalf("set scores: %v", err)
		}
	}
	quiz, _ = store.FindByCode(ctx, "ABC123")
	if quiz.Participants[0].Score != 30 {
		t.Fatalf("expected absolute score 30, got %d", quiz.Participants[0].Score)
	}
	if err := store.SetScores(ctx, "ABC123", nil); err != nil {
		t.Fatalf("reset scores: %v", err)
	}
	quiz, _ = store.FindByCode(ctx, "ABC123")
	if quiz.Participants[0].Score != 0 {
		t.Fatalf("expected unlisted participant reset, got %d", quiz.Participants[0].Score)
	}
	if err := store.SetScores(ctx, "NOPE00", nil); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}

	summaries, err := store.ListSummaries(ctx)
	if err != nil || len(summaries) != 1 || summaries[0].ParticipantCount != 1 {
		t.Fatalf("unexpected summaries %+v err=%v", summaries, err)
	}
}

func TestQuizStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewQuizStore(sampleQuiz())

	quiz, _ := store.FindByCode(ctx, "ABC123")
	quiz.Questions[0].Options[0] = "mutated"

	again, _ := store.FindByCode(ctx, "ABC123")
	if again.Questions[0].Options[0] != "3" {
		t.Fatalf("store leaked internal state")
	}
}
