package http

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/clock"
	"assessment-attempt-service/internal/domain"
	"assessment-attempt-service/internal/infra/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testEnv struct {
	clock    *clock.Manual
	service  *app.AttemptService
	auth     *Authenticator
	registry *memory.ViewRegistry
	router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, LiveOptions{Debounce: 100 * time.Millisecond, Tick: time.Hour})
}

func newTestEnvWith(t *testing.T, live LiveOptions) *testEnv {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	catalog := memory.NewAssessmentCatalog(memory.NewStaticAssessmentLoader(sampleAssessments()...), time.Minute)
	service := app.NewAttemptService(memory.NewAttemptStore(), catalog, app.Options{
		Clock:  clk,
		Locker: memory.NewStartLocker(),
	})
	auth := NewAuthenticator(testSecret, "")
	registry := memory.NewViewRegistry()
	live.Clock = clk
	router := NewRouter(RouterConfig{
		Mode:        gin.TestMode,
		Auth:        auth,
		Attempts:    NewAttemptHandler(service, nil),
		Live:        NewLiveHandler(service, registry, live, nil),
		AnswerLimit: NewUserRateLimiter(100, 100),
	})
	return &testEnv{clock: clk, service: service, auth: auth, registry: registry, router: router}
}

func (e *testEnv) token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	token, err := e.auth.Issue(userID, role, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sampleAssessments() []domain.Assessment {
	return []domain.Assessment{
		{
			ID:          "quiz-1",
			Title:       "Go Basics",
			Type:        domain.TypeQuiz,
			TimeLimit:   domain.TimeLimit(time.Minute),
			MaxAttempts: 1,
			Status:      domain.AssessmentActive,
			QuizQuestions: []domain.QuizQuestion{
				{Question: "2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
				{Question: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectIndex: 0},
			},
		},
		{
			ID:            "essay-1",
			Title:         "API Essay",
			Type:          domain.TypeWriting,
			TimeLimit:     domain.TimeLimit(30 * time.Minute),
			MaxAttempts:   2,
			Status:        domain.AssessmentActive,
			WritingTask:   "Describe API versioning.",
			WritingFormat: domain.WritingText,
		},
	}
}
