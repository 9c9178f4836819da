// Package httpapi exposes the orchestrator over HTTP for `flowcard serve`.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doeshing/flowcard/internal/application/catalog"
	"github.com/doeshing/flowcard/internal/application/execution"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

const maxImportBytes = 8 << 20

// Handlers holds what the routes call into.
type Handlers struct {
	Executor *execution.Service
	Catalog  *catalog.Service
	History  ports.HistoryStore
	Gatherer prometheus.Gatherer
	Logger   ports.Logger
	// AllowOrigins defaults to any origin.
	AllowOrigins []string
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(h Handlers) *gin.Engine {
	if h.Logger == nil {
		h.Logger = logger.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(h.Logger), requestCredential())

	corsConfig := cors.DefaultConfig()
	if len(h.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = h.AllowOrigins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	if h.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.GET("/cards", h.listCards)
		api.POST("/cards/sync", h.syncCards)
		api.POST("/cards/:id/execute", h.executeCard)
		api.GET("/executions/:id", h.executionStatus)
		api.GET("/history", h.listHistory)
		api.GET("/history/stats", h.historyStats)
		api.GET("/history/export", h.exportHistory)
		api.POST("/history/import", h.importHistory)
		api.POST("/history/:id/recheck", h.recheck)
		api.DELETE("/history", h.deleteHistory)
		api.DELETE("/history/all", h.clearHistory)
	}
	return r
}

type executeBody struct {
	Parameters map[string]any `json:"parameters"`
	BotID      string         `json:"botId"`
}

func (h Handlers) executeCard(c *gin.Context) {
	var body executeBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abort(c, domain.WrapExecutionError(domain.KindInvalidArgument, err, "invalid request body"))
			return
		}
	}
	if body.Parameters == nil {
		body.Parameters = map[string]any{}
	}
	card, err := h.Catalog.Find(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	in, err := execution.CardInput(card, body.Parameters, body.BotID)
	if err != nil {
		abort(c, err)
		return
	}
	in.Request.Credential = bearer(c.GetHeader("Authorization"))

	var historyID string
	in.OnStarted = func(id string) { historyID = id }
	result, err := h.Executor.Execute(c.Request.Context(), in)
	if err != nil {
		if historyID == "" {
			abort(c, err)
			return
		}
		c.JSON(statusFor(err), gin.H{
			"error":     err.Error(),
			"kind":      string(domain.KindOf(err)),
			"historyId": historyID,
			"result":    result,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"historyId": historyID, "result": result})
}

func (h Handlers) executionStatus(c *gin.Context) {
	res, err := h.Executor.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) recheck(c *gin.Context) {
	item, err := h.Executor.Recheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type historyParams struct {
	CardID    string `form:"cardId"`
	Status    string `form:"status"`
	SortBy    string `form:"sortBy" binding:"omitempty,oneof=timestamp executionTime"`
	SortOrder string `form:"sortOrder" binding:"omitempty,oneof=asc desc"`
	Offset    int    `form:"offset" binding:"gte=0"`
	Limit     int    `form:"limit" binding:"gte=0"`
}

func (p historyParams) query() (domain.HistoryQuery, error) {
	q := domain.HistoryQuery{
		CardID:    p.CardID,
		SortBy:    domain.HistorySortKey(p.SortBy),
		SortOrder: domain.SortOrder(p.SortOrder),
		Offset:    p.Offset,
		Limit:     p.Limit,
	}
	if p.Status != "" {
		status, ok := domain.ParseExecutionStatus(p.Status)
		if !ok {
			return q, domain.NewExecutionError(domain.KindInvalidArgument, "unknown status %q", p.Status)
		}
		q.Status = status
	}
	return q, nil
}

func (h Handlers) listHistory(c *gin.Context) {
	var params historyParams
	if err := c.ShouldBindQuery(&params); err != nil {
		abort(c, domain.WrapExecutionError(domain.KindInvalidArgument, err, "invalid query"))
		return
	}
	q, err := params.query()
	if err != nil {
		abort(c, err)
		return
	}
	items, err := h.History.Query(c.Request.Context(), q)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h Handlers) historyStats(c *gin.Context) {
	stats, err := h.Executor.Stats(c.Request.Context(), c.Query("cardId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) exportHistory(c *gin.Context) {
	data, err := h.History.ExportAll(c.Request.Context(), c.Query("cardId"))
	if err != nil {
		abort(c, err)
		return
	}
	name := fmt.Sprintf("flowcard-history-%s.json", time.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (h Handlers) importHistory(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		abort(c, domain.WrapExecutionError(domain.KindInvalidArgument, err, "read body"))
		return
	}
	merge := c.Query("merge") == "true" || c.Query("merge") == "1"
	n, err := h.Executor.ImportHistory(c.Request.Context(), data, merge)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

type deleteBody struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

func (h Handlers) deleteHistory(c *gin.Context) {
	var body deleteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, domain.WrapExecutionError(domain.KindInvalidArgument, err, "ids are required"))
		return
	}
	n, err := h.Executor.DeleteHistory(c.Request.Context(), body.IDs)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h Handlers) clearHistory(c *gin.Context) {
	if err := h.Executor.ClearHistory(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) listCards(c *gin.Context) {
	cards, err := h.Catalog.List(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

func (h Handlers) syncCards(c *gin.Context) {
	outcome, err := h.Catalog.Sync(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

// statusFor maps an error to the HTTP status the API answers with.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindRemoteFailure, domain.KindTransportError:
		return http.StatusBadGateway
	case domain.KindRequestTimeout, domain.KindPollTimeout:
		return http.StatusGatewayTimeout
	case domain.KindCancelled:
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageFull):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if kind := domain.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// requestCredential lets a caller's bearer token override the configured one
// for every remote call the request makes.
func requestCredential() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearer(c.GetHeader("Authorization")); token != "" {
			c.Request = c.Request.WithContext(credentials.WithToken(c.Request.Context(), token))
		}
		c.Next()
	}
}

func requestLog(log ports.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
	}
}
