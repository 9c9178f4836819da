package workflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
	"github.com/doeshing/flowcard/internal/infrastructure/workflow/workflowtest"
	"github.com/doeshing/flowcard/internal/ports"
)

type recordingSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.calls...)
}

func newClient(srv *workflowtest.Server, sleeper *recordingSleeper) *Client {
	cfg := Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		Credentials:    credentials.Static("tok"),
	}
	if sleeper != nil {
		cfg.Sleep = sleeper.Sleep
	}
	return New(cfg)
}

func request() domain.ExecutionRequest {
	return domain.ExecutionRequest{WorkflowID: "wf-1", Parameters: map[string]any{"input": "x"}}
}

func TestRunSubmitsWorkflow(t *testing.T) {
	srv := workflowtest.New(t)
	client := New(Config{BaseURL: srv.URL + "/", BotID: "bot-9", Credentials: credentials.Static("tok")})

	res, err := client.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", res.ID)
	assert.Equal(t, domain.StatusRunning, res.Status)
	assert.Equal(t, "wf-1", res.WorkflowID)

	assert.Equal(t, []string{"Bearer tok"}, srv.Authorizations())
	body := srv.LastRun()
	assert.Equal(t, "wf-1", body["workflow_id"])
	assert.Equal(t, "bot-9", body["bot_id"])
	assert.Equal(t, map[string]any{"input": "x"}, body["parameters"])
}

func TestRunPrefersRequestCredential(t *testing.T) {
	srv := workflowtest.New(t)
	client := newClient(srv, nil)

	req := request()
	req.Credential = "caller-token"
	_, err := client.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer caller-token"}, srv.Authorizations())
}

func TestRunValidatesBeforeNetwork(t *testing.T) {
	srv := workflowtest.New(t)

	tests := []struct {
		name   string
		client *Client
		req    domain.ExecutionRequest
		want   error
	}{
		{
			name:   "missing workflow id",
			client: newClient(srv, nil),
			req:    domain.ExecutionRequest{Parameters: map[string]any{}},
			want:   domain.ErrInvalidArgument,
		},
		{
			name:   "nil parameters",
			client: newClient(srv, nil),
			req:    domain.ExecutionRequest{WorkflowID: "wf-1"},
			want:   domain.ErrInvalidArgument,
		},
		{
			name:   "no credential",
			client: New(Config{BaseURL: srv.URL, Credentials: credentials.Static("")}),
			req:    request(),
			want:   domain.ErrUnauthenticated,
		},
		{
			name:   "no credential source",
			client: New(Config{BaseURL: srv.URL}),
			req:    request(),
			want:   domain.ErrUnauthenticated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, srv.Calls())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		reply    workflowtest.Response
		wantKind domain.ErrorKind
		wantCode int
	}{
		{"http 500", workflowtest.HTTPError(http.StatusInternalServerError), domain.KindTransportError, domain.LocalErrorCode},
		{"http 401", workflowtest.HTTPError(http.StatusUnauthorized), domain.KindUnauthenticated, domain.LocalErrorCode},
		{"http 403", workflowtest.HTTPError(http.StatusForbidden), domain.KindUnauthenticated, domain.LocalErrorCode},
		{"business code", workflowtest.BusinessError(4200, "workflow not published"), domain.KindRemoteFailure, 4200},
		{"business code with http 400", workflowtest.Response{HTTPStatus: http.StatusBadRequest, Code: 4000, Msg: "bad"}, domain.KindRemoteFailure, 4000},
		{"business code with http 401", workflowtest.Response{HTTPStatus: http.StatusUnauthorized, Code: 4100, Msg: "token expired"}, domain.KindRemoteFailure, 4100},
		{"http 401 with zero code", workflowtest.Response{HTTPStatus: http.StatusUnauthorized}, domain.KindUnauthenticated, domain.LocalErrorCode},
		{"malformed json", workflowtest.Response{Raw: "{not json"}, domain.KindTransportError, domain.LocalErrorCode},
		{"missing data", workflowtest.Response{}, domain.KindTransportError, domain.LocalErrorCode},
		{"unknown status", workflowtest.Response{Data: map[string]any{"id": "e", "status": "Exploded"}}, domain.KindTransportError, domain.LocalErrorCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := workflowtest.New(t)
			srv.OnRun(tt.reply)

			_, err := newClient(srv, nil).Run(context.Background(), request())
			require.Error(t, err)

			var execErr *domain.ExecutionError
			require.True(t, errors.As(err, &execErr))
			assert.Equal(t, tt.wantKind, execErr.Kind)
			assert.Equal(t, tt.wantCode, execErr.Code)
			assert.NotEmpty(t, err.Error())
		})
	}
}

func TestBusinessCodeOnAuthStatusKeepsRemoteMessage(t *testing.T) {
	srv := workflowtest.New(t)
	srv.OnRun(workflowtest.Response{HTTPStatus: http.StatusUnauthorized, Code: 4100, Msg: "token expired"})

	_, err := newClient(srv, nil).Run(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrRemoteFailure)
	assert.ErrorContains(t, err, "token expired")
}

func TestRequestTimeout(t *testing.T) {
	srv := workflowtest.New(t)
	reply := workflowtest.Running("exec-1")
	reply.Delay = time.Second
	srv.OnRun(reply)

	client := New(Config{BaseURL: srv.URL, RequestTimeout: 20 * time.Millisecond, Credentials: credentials.Static("tok")})
	_, err := client.Run(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrRequestTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransportErrorWhenUnreachable(t *testing.T) {
	srv := workflowtest.New(t)
	url := srv.URL
	srv.Close()

	client := New(Config{BaseURL: url, Credentials: credentials.Static("tok")})
	_, err := client.Run(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.True(t, domain.KindOf(err).Retryable())
}

func TestPollUntilTerminalTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	srv := workflowtest.New(t)
	srv.OnPoll(workflowtest.Running("exec-1"))
	sleeper := &recordingSleeper{}
	client := newClient(srv, sleeper)

	var progress []domain.ExecutionResult
	res, err := client.PollUntilTerminal(context.Background(), "exec-1", ports.PollOptions{
		MaxAttempts: 3,
		Interval:    250 * time.Millisecond,
		OnProgress:  func(r domain.ExecutionResult) { progress = append(progress, r) },
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPollTimeout)
	assert.NotErrorIs(t, err, domain.ErrRemoteFailure)
	assert.Equal(t, 3, srv.PollCalls())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sleeper.Calls())
	assert.Len(t, progress, 3)
	assert.Equal(t, domain.StatusRunning, res.Status)
}

func TestPollUntilTerminalCompletes(t *testing.T) {
	srv := workflowtest.New(t)
	srv.OnPoll(workflowtest.Running("exec-1"), workflowtest.Completed("exec-1", "done"))
	client := newClient(srv, &recordingSleeper{})

	res, err := client.PollUntilTerminal(context.Background(), "exec-1", ports.PollOptions{MaxAttempts: 5, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "done", res.OutputString())
	assert.Nil(t, res.Error)
	assert.Equal(t, 2, srv.PollCalls())
	assert.Equal(t, []string{"exec-1", "exec-1"}, srv.PolledIDs())
}

func TestPollUntilTerminalRemoteOutcomes(t *testing.T) {
	t.Run("failed", func(t *testing.T) {
		srv := workflowtest.New(t)
		srv.OnPoll(workflowtest.Failed("exec-1", 5001, "node crashed"))

		res, err := newClient(srv, &recordingSleeper{}).PollUntilTerminal(context.Background(), "exec-1", ports.PollOptions{MaxAttempts: 3})
		var execErr *domain.ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, domain.KindRemoteFailure, execErr.Kind)
		assert.Equal(t, 5001, execErr.Code)
		assert.Equal(t, "node crashed", execErr.Message)
		assert.Equal(t, "exec-1", execErr.ExecutionID)
		assert.Equal(t, domain.StatusFailed, res.Status)
	})

	t.Run("cancelled", func(t *testing.T) {
		srv := workflowtest.New(t)
		srv.OnPoll(workflowtest.Cancelled("exec-1"))

		_, err := newClient(srv, &recordingSleeper{}).PollUntilTerminal(context.Background(), "exec-1", ports.PollOptions{MaxAttempts: 3})
		assert.ErrorIs(t, err, domain.ErrCancelled)
		assert.Equal(t, 1, srv.PollCalls())
	})

	t.Run("poll error propagates", func(t *testing.T) {
		srv := workflowtest.New(t)
		srv.OnPoll(workflowtest.Running("exec-1"), workflowtest.HTTPError(http.StatusBadGateway))

		_, err := newClient(srv, &recordingSleeper{}).PollUntilTerminal(context.Background(), "exec-1", ports.PollOptions{MaxAttempts: 10})
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.Equal(t, 2, srv.PollCalls())
	})
}

func TestPollUntilTerminalStopsOnCallerCancel(t *testing.T) {
	srv := workflowtest.New(t)
	srv.OnPoll(workflowtest.Running("exec-1"))

	ctx, cancel := context.WithCancel(context.Background())
	client := New(Config{
		BaseURL:     srv.URL,
		Credentials: credentials.Static("tok"),
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		},
	})

	_, err := client.PollUntilTerminal(ctx, "exec-1", ports.PollOptions{MaxAttempts: 10, Interval: time.Hour})
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, 1, srv.PollCalls())
}

func TestPollUntilTerminalSharesLoopPerExecution(t *testing.T) {
	srv := workflowtest.New(t)
	srv.OnPoll(workflowtest.Running("exec-1"), workflowtest.Completed("exec-1", "done"))

	release := make(chan struct{})
	client := New(Config{
		BaseURL:     srv.URL,
		Credentials: credentials.Static("tok"),
		Sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	var progressA, progressB int
	var mu sync.Mutex
	opts := func(counter *int) ports.PollOptions {
		return ports.PollOptions{MaxAttempts: 5, Interval: time.Millisecond, OnProgress: func(domain.ExecutionResult) {
			mu.Lock()
			*counter++
			mu.Unlock()
		}}
	}

	results := make(chan domain.ExecutionResult, 2)
	go func() {
		res, err := client.PollUntilTerminal(context.Background(), "exec-1", opts(&progressA))
		assert.NoError(t, err)
		results <- res
	}()
	require.Eventually(t, func() bool { return srv.PollCalls() == 1 }, 2*time.Second, 5*time.Millisecond)

	go func() {
		res, err := client.PollUntilTerminal(context.Background(), "exec-1", opts(&progressB))
		assert.NoError(t, err)
		results <- res
	}()
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.watchers["exec-1"]) == 2
	}, 2*time.Second, 5*time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			assert.Equal(t, domain.StatusCompleted, res.Status)
		case <-time.After(2 * time.Second):
			t.Fatal("poll loop did not finish")
		}
	}
	assert.Equal(t, 2, srv.PollCalls())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, progressA)
}

func TestPollRequiresID(t *testing.T) {
	srv := workflowtest.New(t)
	_, err := newClient(srv, nil).Poll(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, srv.Calls())
}

func TestPollUsesContextCredential(t *testing.T) {
	srv := workflowtest.New(t)
	ctx := credentials.WithToken(context.Background(), "ctx-token")

	_, err := newClient(srv, nil).Poll(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer ctx-token"}, srv.Authorizations())
}
