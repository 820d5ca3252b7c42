package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/identity"
)

func doJSON(t *testing.T, method, url string, body any, header map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func newQuizBody() map[string]any {
	return map[string]any{
		"title":       "Geography",
		"category":    "world",
		"createdBy":   "host-1",
		"creatorName": "Ms. Lee",
		"questions": []map[string]any{
			{"text": "Largest ocean?", "type": "single", "options": []string{"Atlantic", "Pacific"}, "correctAnswer": "Pacific"},
			{"text": "Pick the first two letters", "type": "multiple", "options": []string{"a", "b", "c"}, "correctAnswer": "b, a"},
		},
	}
}

func TestAPICreateAndFetchQuiz(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.server.URL

	status, created := doJSON(t, http.MethodPost, base+"/api/quizzes", newQuizBody(), nil)
	require.Equal(t, http.StatusCreated, status)
	code, _ := created["code"].(string)
	require.True(t, domain.ValidCode(code), "unexpected code %q", code)

	status, quiz := doJSON(t, http.MethodGet, base+"/api/quizzes/"+strings.ToLower(code)+"?userId=host-1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, code, quiz["code"])
	require.Equal(t, true, quiz["isCreator"])
	questions := quiz["questions"].([]any)
	require.Len(t, questions, 2)
	for _, q := range questions {
		require.NotContains(t, q.(map[string]any), "correctAnswer")
	}
	require.Equal(t, float64(domain.DefaultTimeLimit), questions[0].(map[string]any)["timeLimit"])

	status, quiz = doJSON(t, http.MethodGet, base+"/api/quizzes/"+code+"?userId=someone", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, quiz["isCreator"])

	status, list := doJSON(t, http.MethodGet, base+"/api/quizzes", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list["quizzes"], 2)
}

func TestAPIRejectsInvalidQuiz(t *testing.T) {
	srv := newTestServer(t, nil)

	body := newQuizBody()
	body["questions"] = []map[string]any{}
	status, out := doJSON(t, http.MethodPost, srv.server.URL+"/api/quizzes", body, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, string(domain.KindBadRequest), out["kind"])
}

func TestAPINotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/api/quizzes/ZZZZZZ", "/api/quizzes/ZZZZZZ/leaderboard", "/api/sessions/ABC123"} {
		status, out := doJSON(t, http.MethodGet, srv.server.URL+path, nil, nil)
		require.Equal(t, http.StatusNotFound, status, path)
		require.Equal(t, string(domain.KindNotFound), out["kind"], path)
	}
}

func TestAPILeaderboardAndLiveSession(t *testing.T) {
	srv := newTestServer(t, nil)
	alice := srv.dial(t, "")
	bob := srv.dial(t, "")
	send(t, alice, "join", map[string]any{"code": "ABC123", "userId": "u1", "username": "Alice"})
	readUntil(t, alice, "joined")
	send(t, bob, "join", map[string]any{"code": "ABC123", "userId": "u2", "username": "Bob"})
	readUntil(t, bob, "joined")
	send(t, alice, "start", nil)
	readUntil(t, alice, "started")
	send(t, alice, "submitAnswer", map[string]any{"questionIndex": 0, "answer": "4"})
	readUntil(t, alice, "answerResult")

	status, snap := doJSON(t, http.MethodGet, srv.server.URL+"/api/sessions/abc123", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "active", snap["status"])
	require.Len(t, snap["players"], 2)

	status, report := doJSON(t, http.MethodGet, srv.server.URL+"/api/quizzes/ABC123/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, status)
	entries := report["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	require.Equal(t, "u1", first["userId"])
	require.Equal(t, float64(10), first["score"])
	require.Len(t, report["history"], 1)
}

func TestAPITokenCreator(t *testing.T) {
	tokens := identity.NewTokens("secret", time.Hour)
	srv := newTestServer(t, tokens)

	status, out := doJSON(t, http.MethodPost, srv.server.URL+"/api/quizzes", newQuizBody(), nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, string(domain.KindUnauthorized), out["kind"])

	raw, err := tokens.Issue(domain.Identity{UserID: "owner", Username: "Owner"})
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + raw}

	status, out = doJSON(t, http.MethodPost, srv.server.URL+"/api/quizzes", newQuizBody(), auth)
	require.Equal(t, http.StatusCreated, status)
	code := out["code"].(string)

	status, quiz := doJSON(t, http.MethodGet, srv.server.URL+"/api/quizzes/"+code, nil, auth)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "owner", quiz["createdBy"])
	require.Equal(t, true, quiz["isCreator"])
}

func TestAPISessionCommands(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.server.URL + "/api/quizzes/ABC123"

	status, snap := doJSON(t, http.MethodPost, base+"/join", map[string]any{"userId": "u1", "username": "Alice"}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "waiting", snap["status"])

	status, out := doJSON(t, http.MethodPost, base+"/start", map[string]any{"userId": "u1"}, nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, string(domain.KindInvalidTransition), out["kind"])

	status, _ = doJSON(t, http.MethodPost, base+"/join", map[string]any{"userId": "u2", "username": "Bob"}, nil)
	require.Equal(t, http.StatusOK, status)

	status, out = doJSON(t, http.MethodPost, base+"/start", map[string]any{"userId": "u2"}, nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, string(domain.KindUnauthorized), out["kind"])

	status, snap = doJSON(t, http.MethodPost, base+"/start", map[string]any{"userId": "u1"}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "active", snap["status"])

	status, res := doJSON(t, http.MethodPost, base+"/answers", map[string]any{"userId": "u2", "questionIndex": 0, "answer": "4"}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, res["correct"])
	require.Equal(t, float64(10), res["score"])

	status, out = doJSON(t, http.MethodPost, base+"/answers", map[string]any{"userId": "u2", "questionIndex": 0, "answer": "4"}, nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, string(domain.KindConflict), out["kind"])

	status, _ = doJSON(t, http.MethodPost, base+"/leave", map[string]any{"userId": "u2"}, nil)
	require.Equal(t, http.StatusOK, status)

	status, ended := doJSON(t, http.MethodPost, base+"/end", map[string]any{"userId": "u1"}, nil)
	require.Equal(t, http.StatusOK, status)
	final := ended["finalScores"].([]any)
	require.Len(t, final, 2)
	require.Equal(t, "u2", final[0].(map[string]any)["userId"])
}

func TestAPISessionCommandsRequireCaller(t *testing.T) {
	srv := newTestServer(t, nil)
	status, out := doJSON(t, http.MethodPost, srv.server.URL+"/api/quizzes/ABC123/start", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, string(domain.KindBadRequest), out["kind"])
}

func TestAPIAdminQuizOnlyForCreator(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.server.URL + "/api/quizzes/ABC123/admin"

	status, out := doJSON(t, http.MethodGet, base+"?userId=u2", nil, nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, string(domain.KindUnauthorized), out["kind"])

	status, _ = doJSON(t, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, quiz := doJSON(t, http.MethodGet, base+"?userId=u1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	questions := quiz["questions"].([]any)
	require.Equal(t, "4", questions[0].(map[string]any)["correctAnswer"])
}

func TestAPIAdminQuizUsesBearerIdentity(t *testing.T) {
	tokens := identity.NewTokens("secret", time.Hour)
	srv := newTestServer(t, tokens)
	base := srv.server.URL + "/api/quizzes/ABC123/admin"

	// the query string cannot impersonate the creator once tokens are on
	status, _ := doJSON(t, http.MethodGet, base+"?userId=u1", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	raw, err := tokens.Issue(domain.Identity{UserID: "u1", Username: "Alice"})
	require.NoError(t, err)
	status, quiz := doJSON(t, http.MethodGet, base, nil, map[string]string{"Authorization": "Bearer " + raw})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "u1", quiz["createdBy"])
}
