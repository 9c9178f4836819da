package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/flowcard/internal/application/catalog"
	"github.com/doeshing/flowcard/internal/application/execution"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cache"
	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
	"github.com/doeshing/flowcard/internal/infrastructure/history"
	"github.com/doeshing/flowcard/internal/infrastructure/metrics"
	"github.com/doeshing/flowcard/internal/infrastructure/storage"
	"github.com/doeshing/flowcard/internal/infrastructure/workflow"
	"github.com/doeshing/flowcard/internal/infrastructure/workflow/workflowtest"
	"github.com/doeshing/flowcard/internal/pkg/logger"
)

type staticConfig struct{ cfg domain.Config }

func (s staticConfig) Load(context.Context) (domain.Config, error) { return s.cfg, nil }

type staticCards []domain.Card

func (s staticCards) ListCards(context.Context) ([]domain.Card, error) { return s, nil }

type apiFixture struct {
	remote  *workflowtest.Server
	router  *gin.Engine
	history *history.Store
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	remote := workflowtest.New(t)
	kv := storage.NewMemoryStore()
	rec := metrics.NewRecorder()
	hist := history.New(kv, history.Options{Metrics: rec})
	store := cache.New(kv, cache.Options{Metrics: rec})

	client := workflow.New(workflow.Config{
		BaseURL:     remote.URL,
		Credentials: credentials.Static(""),
		Metrics:     rec,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	cfg := domain.Config{Workflow: domain.WorkflowSettings{MaxPollAttempts: 2, PollInterval: "10ms"}}
	executor := &execution.Service{
		ConfigProvider: staticConfig{cfg: cfg},
		Client:         client,
		History:        hist,
		Cache:          store,
		Metrics:        rec,
		Logger:         logger.Nop(),
	}
	cards := staticCards{{
		ID:         "sum",
		Title:      "Summarize",
		WorkflowID: "wf-1",
		Parameters: []domain.CardParameter{{Name: "input", Required: true}, {Name: "lang", Default: "en"}},
	}}
	router := NewRouter(Handlers{
		Executor: executor,
		Catalog:  catalog.NewService(cards, store, catalog.Options{}),
		History:  hist,
		Gatherer: rec.Registry(),
	})
	return &apiFixture{remote: remote, router: router, history: hist}
}

func (f *apiFixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestExecuteCardEndToEnd(t *testing.T) {
	f := newAPI(t)

	w := f.do(http.MethodPost, "/api/cards/sum/execute", `{"parameters":{"input":"hello"}}`, "Authorization", "Bearer user-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotEmpty(t, body["historyId"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "Completed", result["status"])

	assert.Equal(t, "Bearer user-token", f.remote.Authorizations()[0])
	params := f.remote.LastRun()["parameters"].(map[string]any)
	assert.Equal(t, "en", params["lang"])

	items, err := f.history.Query(context.Background(), domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, body["historyId"], items[0].ID)
}

func TestExecuteCardErrors(t *testing.T) {
	f := newAPI(t)

	w := f.do(http.MethodPost, "/api/cards/nope/execute", `{}`, "Authorization", "Bearer t")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/cards/sum/execute", `{"parameters":{}}`, "Authorization", "Bearer t")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidArgument", decode(t, w)["kind"])

	w = f.do(http.MethodPost, "/api/cards/sum/execute", `{"parameters":{"input":"x"}}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Unauthenticated", body["kind"])
	assert.NotEmpty(t, body["historyId"])
	assert.Zero(t, f.remote.Calls())

	f.remote.OnPoll(workflowtest.Running("exec-1"))
	w = f.do(http.MethodPost, "/api/cards/sum/execute", `{"parameters":{"input":"x"}}`, "Authorization", "Bearer t")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "PollTimeout", decode(t, w)["kind"])
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindInvalidArgument: http.StatusBadRequest,
		domain.KindUnauthenticated: http.StatusUnauthorized,
		domain.KindRemoteFailure:   http.StatusBadGateway,
		domain.KindTransportError:  http.StatusBadGateway,
		domain.KindRequestTimeout:  http.StatusGatewayTimeout,
		domain.KindPollTimeout:     http.StatusGatewayTimeout,
		domain.KindCancelled:       http.StatusConflict,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(domain.NewExecutionError(kind, "x")), kind)
	}
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("card: %w", domain.ErrNotFound)))
	assert.Equal(t, http.StatusInsufficientStorage, statusFor(domain.ErrStorageFull))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestHistoryRoutes(t *testing.T) {
	f := newAPI(t)
	records := `[
		{"id":"a","cardId":"sum","timestamp":1000,"result":{"id":"e1","status":"Completed"},"executionTimeSeconds":2},
		{"id":"b","cardId":"sum","timestamp":2000,"result":{"id":"e2","status":"Failed","error":{"code":1,"message":"x"}}},
		{"id":"c","cardId":"other","timestamp":3000}
	]`
	w := f.do(http.MethodPost, "/api/history/import?merge=false", records)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 3, decode(t, w)["imported"])

	w = f.do(http.MethodGet, "/api/history?cardId=sum&sortOrder=asc", "")
	require.Equal(t, http.StatusOK, w.Code)
	items := decode(t, w)["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].(map[string]any)["id"])

	w = f.do(http.MethodGet, "/api/history?status=failed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"].([]any), 1)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/history?status=weird", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/history?sortBy=title", "").Code)

	w = f.do(http.MethodGet, "/api/history/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.EqualValues(t, 3, stats["total"])
	assert.EqualValues(t, 1, stats["pending"])

	w = f.do(http.MethodGet, "/api/history/export?cardId=other", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	var exported []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exported))
	require.Len(t, exported, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/api/history", `{"ids":[]}`).Code)
	w = f.do(http.MethodDelete, "/api/history", `{"ids":["a","zzz"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["deleted"])

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/history/all", "").Code)
	w = f.do(http.MethodGet, "/api/history/stats", "")
	assert.EqualValues(t, 0, decode(t, w)["total"])
}

func TestImportRejectsNonArray(t *testing.T) {
	f := newAPI(t)
	w := f.do(http.MethodPost, "/api/history/import", `{"id":"a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCardsAndStatusRoutes(t *testing.T) {
	f := newAPI(t)

	w := f.do(http.MethodGet, "/api/cards", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["cards"].([]any), 1)

	w = f.do(http.MethodPost, "/api/cards/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unchanged", decode(t, w)["outcome"])

	w = f.do(http.MethodGet, "/api/executions/exec-1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPI(t)

	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	f.do(http.MethodGet, "/api/cards", "")
	w = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "flowcard_cache_misses_total")
}

func TestBearer(t *testing.T) {
	assert.Equal(t, "abc", bearer("Bearer abc"))
	assert.Equal(t, "abc", bearer("bearer  abc"))
	assert.Empty(t, bearer("Basic abc"))
	assert.Empty(t, bearer(""))
}
