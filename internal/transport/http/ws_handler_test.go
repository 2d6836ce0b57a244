package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assessment-attempt-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialLive(t *testing.T, server *httptest.Server, assessmentID, attemptID, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/api/v1/assessments/" + assessmentID + "/attempts/" + attemptID + "/live?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	return conn
}

// readUntil skips messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) liveMessage {
	t.Helper()
	for {
		var msg liveMessage
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", want)
		if msg.Type == want {
			return msg
		}
	}
}

func startAttempt(t *testing.T, env *testEnv, assessmentID, candidateID string) domain.Attempt {
	t.Helper()
	attempt, created, err := env.service.Start(testContext(t), assessmentID, candidateID)
	require.NoError(t, err)
	require.True(t, created)
	return attempt
}

func TestLiveSessionAutosaveAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	attempt := startAttempt(t, env, "quiz-1", "cand-1")
	conn := dialLive(t, server, "quiz-1", attempt.ID, env.token(t, "cand-1", domain.RoleCandidate))
	defer conn.Close()

	state := readUntil(t, conn, "state")
	assert.Contains(t, string(state.Payload), `"mode":"editable"`)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "answers",
		"payload": domain.NewQuizAnswers(1, 1),
	}))
	// Give the handler time to schedule the save before the quiet period elapses.
	require.Eventually(t, func() bool {
		env.clock.Advance(100 * time.Millisecond)
		current, err := env.service.Resume(testContext(t), domain.AttemptRef{AttemptID: attempt.ID}, "cand-1")
		return err == nil && current.Answers.Selected(0) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "submit"}))
	msg := readUntil(t, conn, "submitted")
	var payload submittedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.True(t, payload.Local)
	assert.Equal(t, domain.StatusSubmitted, payload.View.Status)
	require.NotNil(t, payload.View.Score)
	assert.Equal(t, 1, *payload.View.Score)
}

func TestLiveSessionForcedSubmitAtDeadline(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	attempt := startAttempt(t, env, "quiz-1", "cand-1")
	token := env.token(t, "cand-1", domain.RoleCandidate)
	first := dialLive(t, server, "quiz-1", attempt.ID, token)
	defer first.Close()
	second := dialLive(t, server, "quiz-1", attempt.ID, token)
	defer second.Close()
	readUntil(t, first, "state")
	readUntil(t, second, "state")

	env.clock.Advance(time.Minute)

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readUntil(t, conn, "submitted")
		var payload submittedPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, domain.StatusSubmitted, payload.View.Status)
		assert.Equal(t, "frozen", string(payload.View.Mode))
	}

	stored, err := env.service.Resume(testContext(t), domain.AttemptRef{AttemptID: attempt.ID}, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDeadline, stored.SubmitReason)
	require.NotNil(t, stored.SubmittedAt)
	assert.True(t, stored.SubmittedAt.Equal(attempt.EndTime))
}

func TestLiveSessionUnloadSubmits(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	attempt := startAttempt(t, env, "essay-1", "cand-1")
	conn := dialLive(t, server, "essay-1", attempt.ID, env.token(t, "cand-1", domain.RoleCandidate))
	defer conn.Close()
	readUntil(t, conn, "state")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "answers",
		"payload": domain.NewWritingAnswers("draft", ""),
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "unload"}))

	require.Eventually(t, func() bool {
		stored, err := env.service.Resume(testContext(t), domain.AttemptRef{AttemptID: attempt.ID}, "cand-1")
		return err == nil && stored.Status == domain.StatusSubmitted
	}, 5*time.Second, 20*time.Millisecond)

	stored, err := env.service.Resume(testContext(t), domain.AttemptRef{AttemptID: attempt.ID}, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUnload, stored.SubmitReason)
	require.NotNil(t, stored.Answers.Writing)
	assert.Equal(t, "draft", stored.Answers.Writing.Text)
}

func TestLiveSessionDisconnectKeepsAttemptRunning(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	attempt := startAttempt(t, env, "essay-1", "cand-1")
	conn := dialLive(t, server, "essay-1", attempt.ID, env.token(t, "cand-1", domain.RoleCandidate))
	readUntil(t, conn, "state")
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(env.registry.Peers(attempt.ID)) == 0
	}, 5*time.Second, 20*time.Millisecond)

	stored, err := env.service.Resume(testContext(t), domain.AttemptRef{AttemptID: attempt.ID}, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, stored.Status)
}

func TestLiveSessionDeadlineSubmitsWithoutReader(t *testing.T) {
	env := newTestEnvWith(t, LiveOptions{Debounce: 100 * time.Millisecond, Tick: time.Second, WriteWait: 200 * time.Millisecond})
	server := httptest.NewServer(env.router)
	defer server.Close()

	attempt := startAttempt(t, env, "quiz-1", "cand-1")
	// The client never reads, so ticks pile up past the outbound queue.
	conn := dialLive(t, server, "quiz-1", attempt.ID, env.token(t, "cand-1", domain.RoleCandidate))
	require.Eventually(t, func() bool {
		return len(env.registry.Peers(attempt.ID)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		env.clock.Advance(time.Second)
		stored, err := env.service.Resume(testContext(t), domain.AttemptRef{AttemptID: attempt.ID}, "cand-1")
		return err == nil && stored.Status == domain.StatusSubmitted
	}, 5*time.Second, 5*time.Millisecond)

	stored, err := env.service.Resume(testContext(t), domain.AttemptRef{AttemptID: attempt.ID}, "cand-1")
	require.NoError(t, err)
	require.NotNil(t, stored.SubmittedAt)
	assert.True(t, stored.SubmittedAt.Equal(attempt.EndTime))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return len(env.registry.Peers(attempt.ID)) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLiveSessionRejectsOtherCandidate(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	attempt := startAttempt(t, env, "quiz-1", "cand-1")
	u := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/api/v1/assessments/quiz-1/attempts/" + attempt.ID + "/live?token=" + env.token(t, "cand-2", domain.RoleCandidate)
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// testContext mirrors testing.T.Context (Go 1.24+) for older toolchains:
// the returned context is canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
