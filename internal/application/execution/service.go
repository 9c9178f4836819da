// Package execution composes the workflow client, history store and cache
// into the execute-and-record operation.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cache"
	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
	"github.com/doeshing/flowcard/internal/ports"
)

// Input is one execution launched from a card.
type Input struct {
	CardID     string
	CardTitle  string
	Request    domain.ExecutionRequest
	OnProgress domain.ProgressFunc
	// OnStarted receives the history id once the pending record exists.
	OnStarted func(historyID string)
}

// CardInput builds the Input launching card with params. Card defaults fill
// absent parameters; missing required ones are an InvalidArgument error.
func CardInput(card domain.Card, params map[string]any, botID string) (Input, error) {
	if missing := card.MissingParameters(params); len(missing) > 0 {
		return Input{}, domain.NewExecutionError(domain.KindInvalidArgument, "card %s: missing parameters: %s", card.ID, strings.Join(missing, ", "))
	}
	return Input{
		CardID:    card.ID,
		CardTitle: card.Title,
		Request: domain.ExecutionRequest{
			WorkflowID: card.WorkflowID,
			Parameters: card.ApplyDefaults(params),
			BotID:      botID,
		},
	}, nil
}

// Service runs workflows and keeps the history and derived caches current.
type Service struct {
	ConfigProvider ports.ConfigProvider
	Client         ports.WorkflowClient
	History        ports.HistoryStore
	Cache          ports.CacheStore
	Notifier       ports.Notifier
	Metrics        ports.Metrics
	Logger         ports.Logger
	Now            func() time.Time
}

// Execute records a pending attempt, drives the remote run to a terminal
// state and records the outcome. The history record is updated on every
// path, including failures; the workflow error is returned after that.
func (s *Service) Execute(ctx context.Context, in Input) (domain.ExecutionResult, error) {
	if err := s.ready(); err != nil {
		return domain.ExecutionResult{}, err
	}
	if in.CardID == "" {
		return domain.ExecutionResult{}, domain.NewExecutionError(domain.KindInvalidArgument, "card id is required")
	}
	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("load config: %w", err)
	}

	historyID, err := s.History.Create(ctx, domain.NewHistoryItem{
		CardID:     in.CardID,
		CardTitle:  in.CardTitle,
		WorkflowID: in.Request.WorkflowID,
		Inputs:     in.Request.Parameters,
	})
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("record execution start: %w", err)
	}
	s.invalidateStats(ctx, in.CardID)
	if in.OnStarted != nil {
		in.OnStarted(historyID)
	}
	s.publish(ctx, domain.Event{Type: domain.EventExecutionStarted, CardID: in.CardID, HistoryID: historyID})
	s.Logger.Info("execution started", map[string]interface{}{
		"card_id":     in.CardID,
		"history_id":  historyID,
		"workflow_id": in.Request.WorkflowID,
	})

	start := s.now()
	result, runErr := s.drive(ctx, &cfg, in, historyID)
	elapsed := s.now().Sub(start)

	recorded := recordedResult(in.Request, result, runErr, start, elapsed)
	// The record must land even when the caller has given up.
	recordCtx := context.WithoutCancel(ctx)
	stored, storeErr := s.record(recordCtx, historyID, recorded, elapsed.Seconds())
	s.invalidateStats(recordCtx, in.CardID)

	kind := domain.KindOf(runErr)
	s.Metrics.ExecutionFinished(stored.Status, kind, elapsed)
	s.publish(recordCtx, domain.Event{
		Type:        domain.EventExecutionFinished,
		CardID:      in.CardID,
		HistoryID:   historyID,
		ExecutionID: recorded.ID,
		Status:      stored.Status,
	})

	fields := map[string]interface{}{
		"history_id":   historyID,
		"execution_id": recorded.ID,
		"status":       string(recorded.Status),
		"elapsed":      elapsed.String(),
	}
	if storeErr != nil {
		return recorded, errors.Join(runErr, storeErr)
	}
	if runErr != nil {
		fields["kind"] = string(kind)
		s.Logger.Warn("execution failed", fields)
		return recorded, runErr
	}
	s.Logger.Info("execution finished", fields)
	return recorded, nil
}

// record stores the terminal result on the history item. When the full
// result cannot be written it stores a compact Failed result instead, so the
// item never stays pending. It returns the result that was stored.
func (s *Service) record(ctx context.Context, historyID string, res domain.ExecutionResult, secs float64) (domain.ExecutionResult, error) {
	patch := domain.HistoryPatch{Result: &res, ExecutionTimeSeconds: &secs}
	updated, err := s.History.Update(ctx, historyID, patch)
	if err == nil {
		if !updated {
			s.Logger.Warn("history record vanished before result was stored", map[string]interface{}{"history_id": historyID})
		}
		return res, nil
	}
	s.Logger.Warn("storing compact result", map[string]interface{}{
		"history_id": historyID,
		"error":      err.Error(),
	})

	compact := compactResult(res, err)
	patch.Result = &compact
	if _, retryErr := s.History.Update(ctx, historyID, patch); retryErr != nil {
		s.Logger.Error("record execution result", retryErr, map[string]interface{}{"history_id": historyID})
		return res, fmt.Errorf("record execution result: %w", errors.Join(err, retryErr))
	}
	return compact, nil
}

// compactResult keeps the identity of res and replaces its payload with a
// short local failure naming why the full result was not stored.
func compactResult(res domain.ExecutionResult, cause error) domain.ExecutionResult {
	reason := cause.Error()
	if errors.Is(cause, domain.ErrStorageFull) {
		reason = domain.ErrStorageFull.Error()
	}
	return domain.ExecutionResult{
		ID:                   res.ID,
		WorkflowID:           res.WorkflowID,
		Status:               domain.StatusFailed,
		CreatedAt:            res.CreatedAt,
		UpdatedAt:            res.UpdatedAt,
		ExecutionTimeSeconds: res.ExecutionTimeSeconds,
		Error: &domain.ExecutionErrorInfo{
			Code:    domain.LocalErrorCode,
			Message: fmt.Sprintf("%s result could not be stored: %s", res.Status, reason),
		},
	}
}

func (s *Service) drive(ctx context.Context, cfg *domain.Config, in Input, historyID string) (domain.ExecutionResult, error) {
	// Polling runs without the request, so the caller's credential rides on ctx.
	ctx = credentials.WithToken(ctx, in.Request.Credential)
	res, err := s.Client.Run(ctx, in.Request)
	if err != nil {
		return res, err
	}
	if res.Status.IsTerminal() {
		return res, terminalError(res)
	}
	return s.Client.PollUntilTerminal(ctx, res.ID, ports.PollOptions{
		MaxAttempts: cfg.MaxPollAttempts(),
		Interval:    cfg.PollInterval(),
		OnProgress: func(r domain.ExecutionResult) {
			s.publish(ctx, domain.Event{
				Type:        domain.EventExecutionProgress,
				CardID:      in.CardID,
				HistoryID:   historyID,
				ExecutionID: r.ID,
				Status:      r.Status,
			})
			if in.OnProgress != nil {
				in.OnProgress(r)
			}
		},
	})
}

// terminalError reports a run that was already Failed or Cancelled when it
// was submitted.
func terminalError(res domain.ExecutionResult) error {
	switch res.Status {
	case domain.StatusFailed:
		info := res.Error
		if info == nil {
			info = &domain.ExecutionErrorInfo{}
		}
		return &domain.ExecutionError{Kind: domain.KindRemoteFailure, Code: info.Code, Message: info.Message, ExecutionID: res.ID}
	case domain.StatusCancelled:
		err := domain.NewExecutionError(domain.KindCancelled, "workflow was cancelled remotely")
		err.ExecutionID = res.ID
		return err
	default:
		return nil
	}
}

// recordedResult is the result stored in history. Failures become a
// synthetic result carrying the error kind; only a remote cancellation is
// recorded as Cancelled.
func recordedResult(req domain.ExecutionRequest, res domain.ExecutionResult, runErr error, start time.Time, elapsed time.Duration) domain.ExecutionResult {
	out := res.Clone()
	if out.WorkflowID == "" {
		out.WorkflowID = req.WorkflowID
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = start.Unix()
	}
	out.UpdatedAt = start.Add(elapsed).Unix()
	secs := elapsed.Seconds()
	out.ExecutionTimeSeconds = &secs

	if runErr == nil {
		return out.Normalize()
	}

	if res.Status == domain.StatusCancelled {
		out.Status = domain.StatusCancelled
		return out.Normalize()
	}

	kind := domain.KindOf(runErr)
	if kind == "" {
		kind = domain.KindTransportError
	}
	code := domain.LocalErrorCode
	var execErr *domain.ExecutionError
	if errors.As(runErr, &execErr) {
		code = execErr.Code
	}
	message := runErr.Error()
	if execErr != nil {
		if out.ID == "" {
			out.ID = execErr.ExecutionID
		}
		if execErr.Kind == domain.KindRemoteFailure && execErr.Message != "" {
			message = execErr.Message
		}
	}
	out.Status = domain.StatusFailed
	out.Output = nil
	out.Error = &domain.ExecutionErrorInfo{Code: code, Message: message, Kind: string(kind)}
	return out
}

// Stats returns history aggregates through the cache.
func (s *Service) Stats(ctx context.Context, cardID string) (domain.HistoryStats, error) {
	if s.History == nil {
		return domain.HistoryStats{}, errors.New("execution.Service: history store not configured")
	}
	if s.Cache == nil {
		return s.History.Stats(ctx, cardID)
	}
	ttl := domain.DefaultStatsTTL
	if s.ConfigProvider != nil {
		if cfg, err := s.ConfigProvider.Load(ctx); err == nil {
			ttl = cfg.StatsTTL()
		}
	}
	return cache.GetOrLoad(ctx, s.Cache, StatsCacheKey(cardID), ttl, func(ctx context.Context) (domain.HistoryStats, error) {
		return s.History.Stats(ctx, cardID)
	})
}

// Status checks a remote execution once.
func (s *Service) Status(ctx context.Context, executionID string) (domain.ExecutionResult, error) {
	if s.Client == nil {
		return domain.ExecutionResult{}, errors.New("execution.Service: workflow client not configured")
	}
	return s.Client.Poll(ctx, executionID)
}

// Recheck polls the execution behind a history record whose polling budget
// ran out, and stores the real outcome once the run has finished. Records
// that are not waiting on a poll timeout are returned unchanged.
func (s *Service) Recheck(ctx context.Context, historyID string) (domain.HistoryItem, error) {
	if err := s.ready(); err != nil {
		return domain.HistoryItem{}, err
	}
	item, ok, err := s.History.Get(ctx, historyID)
	if err != nil {
		return domain.HistoryItem{}, err
	}
	if !ok {
		return domain.HistoryItem{}, fmt.Errorf("history %s: %w", historyID, domain.ErrNotFound)
	}
	if item.Result == nil || item.Result.ID == "" || item.Result.Error == nil ||
		item.Result.Error.Kind != string(domain.KindPollTimeout) {
		return item, nil
	}

	res, err := s.Client.Poll(ctx, item.Result.ID)
	if err != nil {
		return item, err
	}
	if !res.Status.IsTerminal() {
		return item, nil
	}
	res.ExecutionTimeSeconds = item.ExecutionTimeSeconds
	if res.WorkflowID == "" {
		res.WorkflowID = item.WorkflowID
	}
	res = res.Normalize()
	if _, err := s.History.Update(ctx, historyID, domain.HistoryPatch{Result: &res}); err != nil {
		return item, err
	}
	s.invalidateStats(ctx, item.CardID)
	s.publish(ctx, domain.Event{
		Type:        domain.EventExecutionFinished,
		CardID:      item.CardID,
		HistoryID:   historyID,
		ExecutionID: res.ID,
		Status:      res.Status,
	})
	updated, _, err := s.History.Get(ctx, historyID)
	return updated, err
}

// DeleteHistory removes records and drops every cached aggregate.
func (s *Service) DeleteHistory(ctx context.Context, ids []string) (int, error) {
	n, err := s.History.DeleteMany(ctx, ids)
	if n > 0 {
		s.dropAllStats(ctx)
	}
	return n, err
}

// ClearHistory removes every record.
func (s *Service) ClearHistory(ctx context.Context) error {
	if err := s.History.ClearAll(ctx); err != nil {
		return err
	}
	s.dropAllStats(ctx)
	return nil
}

// ImportHistory loads exported records, merging with or replacing the
// current ones.
func (s *Service) ImportHistory(ctx context.Context, data []byte, merge bool) (int, error) {
	n, err := s.History.ImportAll(ctx, data, merge)
	if err != nil {
		return 0, err
	}
	s.dropAllStats(ctx)
	return n, nil
}

const statsKeyPrefix = "history:stats:"

// StatsCacheKey names the cached aggregate of one card, or of all cards.
func StatsCacheKey(cardID string) string {
	if cardID == "" {
		return statsKeyPrefix + "all"
	}
	return statsKeyPrefix + cardID
}

func (s *Service) invalidateStats(ctx context.Context, cardID string) {
	if s.Cache == nil {
		return
	}
	for _, key := range []string{StatsCacheKey(cardID), StatsCacheKey("")} {
		if err := s.Cache.Delete(ctx, key); err != nil {
			s.Logger.Warn("invalidate stats cache", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
}

func (s *Service) dropAllStats(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	keys, err := s.Cache.Keys(ctx)
	if err != nil {
		s.Logger.Warn("list cache keys", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, statsKeyPrefix) {
			continue
		}
		if err := s.Cache.Delete(ctx, key); err != nil {
			s.Logger.Warn("invalidate stats cache", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.Notifier == nil {
		return
	}
	event.Timestamp = s.now().UnixMilli()
	if err := s.Notifier.Publish(ctx, event); err != nil {
		s.Logger.Warn("publish event", map[string]interface{}{"type": string(event.Type), "error": err.Error()})
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s.ConfigProvider == nil || s.Client == nil || s.History == nil || s.Metrics == nil || s.Logger == nil {
		return errors.New("execution.Service dependencies not satisfied")
	}
	return nil
}
