package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quizroom-service/internal/domain"
)

func TestIssueAndResolve(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	raw, err := tokens.Issue(domain.Identity{UserID: "u1", Username: "Alice"})
	require.NoError(t, err)

	id, err := tokens.Resolve(raw)
	require.NoError(t, err)
	require.Equal(t, domain.Identity{UserID: "u1", Username: "Alice"}, id)
}

func TestResolveRejectsForeignSignature(t *testing.T) {
	raw, err := NewTokens("other", time.Hour).Issue(domain.Identity{UserID: "u1", Username: "Alice"})
	require.NoError(t, err)

	_, err = NewTokens("secret", time.Hour).Resolve(raw)
	require.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)
}

func TestResolveRejectsExpired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	issuedAt := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issuedAt }
	raw, err := tokens.Issue(domain.Identity{UserID: "u1", Username: "Alice"})
	require.NoError(t, err)

	tokens.now = func() time.Time { return issuedAt.Add(time.Hour) }
	_, err = tokens.Resolve(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDisabledWithoutSecret(t *testing.T) {
	tokens := NewTokens("", time.Hour)
	require.False(t, tokens.Enabled())
	_, err := tokens.Issue(domain.Identity{UserID: "u1", Username: "Alice"})
	require.Error(t, err)
}
