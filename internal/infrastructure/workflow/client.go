// Package workflow talks to the remote workflow API: it submits one run and
// polls its status until a terminal state or the polling budget runs out.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
	"github.com/doeshing/flowcard/internal/infrastructure/metrics"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

const maxResponseBytes = 4 << 20

// Config wires a Client.
type Config struct {
	BaseURL        string
	BotID          string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Credentials    ports.CredentialSource
	Metrics        ports.Metrics
	Logger         ports.Logger
	// Sleep waits between polls; it must return early with ctx.Err() when
	// ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client implements ports.WorkflowClient over HTTP.
type Client struct {
	baseURL     string
	botID       string
	timeout     time.Duration
	httpClient  *http.Client
	credentials ports.CredentialSource
	metrics     ports.Metrics
	log         ports.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	validate    *validator.Validate

	group    singleflight.Group
	mu       sync.Mutex
	watchers map[string]map[int]domain.ProgressFunc
	nextID   int
}

// New builds a Client. Missing optional fields fall back to defaults.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		botID:       cfg.BotID,
		timeout:     cfg.RequestTimeout,
		httpClient:  cfg.HTTPClient,
		credentials: cfg.Credentials,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		sleep:       cfg.Sleep,
		validate:    validator.New(),
		watchers:    make(map[string]map[int]domain.ProgressFunc),
	}
	if c.baseURL == "" {
		c.baseURL = domain.DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = domain.DefaultRequestTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop()
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// Run submits one execution. Input and credential problems are reported
// before any network call.
func (c *Client) Run(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return domain.ExecutionResult{}, domain.WrapExecutionError(domain.KindInvalidArgument, err, "workflowId and parameters are required")
	}
	token, err := c.token(ctx, req.Credential)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	botID := req.BotID
	if botID == "" {
		botID = c.botID
	}
	body, err := json.Marshal(runRequest{WorkflowID: req.WorkflowID, Parameters: req.Parameters, BotID: botID})
	if err != nil {
		return domain.ExecutionResult{}, domain.WrapExecutionError(domain.KindInvalidArgument, err, "encode parameters")
	}

	c.log.Debug("submitting workflow", map[string]interface{}{"workflow_id": req.WorkflowID})
	res, err := c.call(ctx, http.MethodPost, c.baseURL+"/workflow/run", body, token)
	if err != nil {
		return res, err
	}
	if res.WorkflowID == "" {
		res.WorkflowID = req.WorkflowID
	}
	return res, nil
}

// Poll checks the status of one execution once.
func (c *Client) Poll(ctx context.Context, executionID string) (domain.ExecutionResult, error) {
	if strings.TrimSpace(executionID) == "" {
		return domain.ExecutionResult{}, domain.NewExecutionError(domain.KindInvalidArgument, "execution id is required")
	}
	token, err := c.token(ctx, "")
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	c.metrics.PollAttempt()
	res, err := c.call(ctx, http.MethodGet, c.baseURL+"/workflow/run/"+url.PathEscape(executionID), nil, token)
	if err != nil {
		var execErr *domain.ExecutionError
		if errors.As(err, &execErr) && execErr.ExecutionID == "" {
			execErr.ExecutionID = executionID
		}
		return res, err
	}
	if res.ID == "" {
		res.ID = executionID
	}
	return res, nil
}

// PollUntilTerminal polls at a constant interval until the execution
// completes, fails, is cancelled, or MaxAttempts polls have been made.
// Concurrent callers for the same id share one polling loop, which runs
// under the first caller's context; every caller's OnProgress is notified.
func (c *Client) PollUntilTerminal(ctx context.Context, executionID string, opts ports.PollOptions) (domain.ExecutionResult, error) {
	if strings.TrimSpace(executionID) == "" {
		return domain.ExecutionResult{}, domain.NewExecutionError(domain.KindInvalidArgument, "execution id is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = domain.DefaultMaxPollAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = domain.DefaultPollInterval
	}

	unwatch := c.watch(executionID, opts.OnProgress)
	defer unwatch()

	ch := c.group.DoChan(executionID, func() (interface{}, error) {
		return c.pollLoop(ctx, executionID, opts)
	})
	select {
	case <-ctx.Done():
		return domain.ExecutionResult{}, cancelled(executionID, ctx.Err())
	case out := <-ch:
		res, _ := out.Val.(domain.ExecutionResult)
		return res.Clone(), out.Err
	}
}

func (c *Client) pollLoop(ctx context.Context, executionID string, opts ports.PollOptions) (domain.ExecutionResult, error) {
	var last domain.ExecutionResult
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		res, err := c.Poll(ctx, executionID)
		if err != nil {
			return res, err
		}
		last = res
		c.log.Debug("workflow polled", map[string]interface{}{
			"execution_id": executionID,
			"attempt":      attempt,
			"status":       string(res.Status),
		})

		switch res.Status {
		case domain.StatusCompleted:
			return res, nil
		case domain.StatusFailed:
			return res, remoteFailure(executionID, res)
		case domain.StatusCancelled:
			err := domain.NewExecutionError(domain.KindCancelled, "workflow was cancelled remotely")
			err.ExecutionID = executionID
			return res, err
		}

		c.notify(executionID, res)
		if attempt == opts.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, opts.Interval); err != nil {
			return last, cancelled(executionID, err)
		}
	}
	err := domain.NewExecutionError(domain.KindPollTimeout, "still running after %d polls", opts.MaxAttempts)
	err.ExecutionID = executionID
	return last, err
}

func (c *Client) watch(executionID string, fn domain.ProgressFunc) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.watchers[executionID] == nil {
		c.watchers[executionID] = make(map[int]domain.ProgressFunc)
	}
	c.watchers[executionID][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers[executionID], id)
		if len(c.watchers[executionID]) == 0 {
			delete(c.watchers, executionID)
		}
	}
}

func (c *Client) notify(executionID string, res domain.ExecutionResult) {
	c.mu.Lock()
	fns := make([]domain.ProgressFunc, 0, len(c.watchers[executionID]))
	for _, fn := range c.watchers[executionID] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(res.Clone())
	}
}

func (c *Client) token(ctx context.Context, explicit string) (string, error) {
	if token := strings.TrimSpace(explicit); token != "" {
		return token, nil
	}
	if token := credentials.FromContext(ctx); token != "" {
		return token, nil
	}
	if c.credentials == nil {
		return "", domain.NewExecutionError(domain.KindUnauthenticated, "no credential configured")
	}
	token, err := c.credentials.Token(ctx)
	if err != nil {
		return "", domain.WrapExecutionError(domain.KindUnauthenticated, err, "resolve credential")
	}
	if token == "" {
		return "", domain.NewExecutionError(domain.KindUnauthenticated, "no credential available")
	}
	return token, nil
}

// call performs one request under its own deadline and decodes the envelope.
func (c *Client) call(ctx context.Context, method, endpoint string, body []byte, token string) (domain.ExecutionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, method, endpoint, reader)
	if err != nil {
		return domain.ExecutionResult{}, domain.WrapExecutionError(domain.KindTransportError, err, "build request")
	}
	httpReq.Header.Set("authorization", "Bearer "+token)
	httpReq.Header.Set("accept", "application/json")
	if body != nil {
		httpReq.Header.Set("content-type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ExecutionResult{}, c.classify(ctx, callCtx, err, method, endpoint)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.ExecutionResult{}, c.classify(ctx, callCtx, err, method, endpoint)
	}

	// A business code wins over the HTTP status.
	var env envelope
	decodeErr := json.Unmarshal(payload, &env)
	if decodeErr == nil && env.Code != 0 {
		return domain.ExecutionResult{}, &domain.ExecutionError{
			Kind:    domain.KindRemoteFailure,
			Code:    env.Code,
			Message: env.Msg,
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.ExecutionResult{}, domain.NewExecutionError(domain.KindUnauthenticated, "%s %s: %s", method, endpoint, resp.Status)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return domain.ExecutionResult{}, domain.NewExecutionError(domain.KindTransportError, "%s %s: %s", method, endpoint, resp.Status)
	}
	if decodeErr != nil {
		return domain.ExecutionResult{}, domain.WrapExecutionError(domain.KindTransportError, decodeErr, "decode response")
	}
	if env.Data == nil {
		return domain.ExecutionResult{}, domain.NewExecutionError(domain.KindTransportError, "response carries no execution data")
	}
	res, err := env.Data.toResult()
	if err != nil {
		return domain.ExecutionResult{}, domain.WrapExecutionError(domain.KindTransportError, err, "decode execution")
	}
	return res, nil
}

// classify maps a failed round trip to an error kind. A per-call deadline is
// a RequestTimeout; an aborted caller context is Cancelled.
func (c *Client) classify(parent, callCtx context.Context, err error, method, endpoint string) error {
	switch {
	case parent.Err() != nil:
		return domain.WrapExecutionError(domain.KindCancelled, parent.Err(), "%s %s", method, endpoint)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return domain.WrapExecutionError(domain.KindRequestTimeout, err, "%s %s exceeded %s", method, endpoint, c.timeout)
	default:
		return domain.WrapExecutionError(domain.KindTransportError, err, "%s %s", method, endpoint)
	}
}

func remoteFailure(executionID string, res domain.ExecutionResult) error {
	info := res.Error
	if info == nil {
		info = &domain.ExecutionErrorInfo{}
	}
	return &domain.ExecutionError{
		Kind:        domain.KindRemoteFailure,
		Code:        info.Code,
		Message:     info.Message,
		ExecutionID: executionID,
	}
}

func cancelled(executionID string, cause error) error {
	err := domain.WrapExecutionError(domain.KindCancelled, cause, "polling aborted")
	err.ExecutionID = executionID
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Describe returns the endpoint the client talks to.
func (c *Client) Describe() string {
	return fmt.Sprintf("%s (timeout %s)", c.baseURL, c.timeout)
}

var _ ports.WorkflowClient = (*Client)(nil)
