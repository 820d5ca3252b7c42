package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishRoutesByStatus(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{exchange: "quiz.lifecycle", ch: ch}
	at := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

	require.NoError(t, p.Publish(context.Background(), app.LifecycleEvent{Code: "ABC123", Status: app.StatusActive, Players: 2, At: at}))
	require.NoError(t, p.Publish(context.Background(), app.LifecycleEvent{
		Code:    "ABC123",
		Status:  app.StatusCompleted,
		Players: 2,
		Ranking: []domain.LeaderboardEntry{{Rank: 1, UserID: "u1", Score: 20}},
		At:      at,
	}))

	require.Len(t, ch.sent, 2)
	require.Equal(t, SessionStartRoutingKey, ch.sent[0].key)
	require.Equal(t, SessionEndRoutingKey, ch.sent[1].key)
	require.Equal(t, "quiz.lifecycle", ch.sent[1].exchange)
	require.Equal(t, "application/json", ch.sent[1].msg.ContentType)

	var decoded app.LifecycleEvent
	require.NoError(t, json.Unmarshal(ch.sent[1].msg.Body, &decoded))
	require.Equal(t, "u1", decoded.Ranking[0].UserID)
}

func TestPublishWrapsChannelErrors(t *testing.T) {
	p := &Publisher{exchange: "quiz.lifecycle", ch: &fakeChannel{err: errors.New("channel closed")}}
	err := p.Publish(context.Background(), app.LifecycleEvent{Code: "ABC123", Status: app.StatusActive})
	require.ErrorContains(t, err, "channel closed")
}

func TestCloseClosesChannel(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{exchange: "quiz.lifecycle", ch: ch}
	require.NoError(t, p.Close())
	require.True(t, ch.closed)
}
