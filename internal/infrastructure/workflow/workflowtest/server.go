// Package workflowtest provides a scripted fake of the remote workflow API
// for tests.
package workflowtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is one scripted reply.
type Response struct {
	HTTPStatus int
	Code       int
	Msg        string
	Data       map[string]any
	// Delay holds the reply back; the handler gives up early when the
	// client disconnects.
	Delay time.Duration
	// Raw replaces the JSON envelope when set.
	Raw string
}

// Running is a non-terminal execution.
func Running(id string) Response {
	return Response{Data: map[string]any{"id": id, "status": "Running", "created_at": 1700000000, "updated_at": 1700000000}}
}

// Completed is a successful execution carrying output.
func Completed(id string, output any) Response {
	return Response{Data: map[string]any{"id": id, "status": "Completed", "output": output, "updated_at": 1700000010}}
}

// Failed is a remote business failure reported through the status field.
func Failed(id string, code int, message string) Response {
	return Response{Data: map[string]any{"id": id, "status": "Failed", "error": map[string]any{"code": code, "message": message}}}
}

// Cancelled is a remotely cancelled execution.
func Cancelled(id string) Response {
	return Response{Data: map[string]any{"id": id, "status": "Cancelled"}}
}

// HTTPError replies with a bare HTTP status.
func HTTPError(status int) Response {
	return Response{HTTPStatus: status, Raw: http.StatusText(status)}
}

// BusinessError replies HTTP 200 with code != 0.
func BusinessError(code int, msg string) Response {
	return Response{Code: code, Msg: msg}
}

// Server is a gin router behind httptest playing the workflow API.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	run       Response
	polls     []Response
	runCalls  int
	pollCalls int
	auth      []string
	lastRun   map[string]any
	polledIDs []string
}

// New starts a server that answers every run with Running("exec-1") and every
// poll with Completed until scripted otherwise.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{run: Running("exec-1"), polls: []Response{Completed("exec-1", "done")}}
	router := gin.New()
	router.POST("/workflow/run", s.handleRun)
	router.GET("/workflow/run/:id", s.handlePoll)
	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

// OnRun scripts the submission reply.
func (s *Server) OnRun(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = r
}

// OnPoll scripts poll replies in order; the last one repeats.
func (s *Server) OnPoll(rs ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls = append([]Response(nil), rs...)
}

// RunCalls counts submissions received.
func (s *Server) RunCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCalls
}

// PollCalls counts status checks received.
func (s *Server) PollCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCalls
}

// Calls counts every request received.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCalls + s.pollCalls
}

// Authorizations lists the Authorization headers seen, in order.
func (s *Server) Authorizations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

// LastRun is the decoded body of the latest submission.
func (s *Server) LastRun() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// PolledIDs lists the execution ids polled, in order.
func (s *Server) PolledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.polledIDs...)
}

func (s *Server) handleRun(c *gin.Context) {
	var body map[string]any
	_ = c.ShouldBindJSON(&body)

	s.mu.Lock()
	s.runCalls++
	s.auth = append(s.auth, c.GetHeader("Authorization"))
	s.lastRun = body
	reply := s.run
	s.mu.Unlock()

	s.reply(c, reply)
}

func (s *Server) handlePoll(c *gin.Context) {
	s.mu.Lock()
	s.pollCalls++
	s.auth = append(s.auth, c.GetHeader("Authorization"))
	s.polledIDs = append(s.polledIDs, c.Param("id"))
	var reply Response
	if len(s.polls) > 0 {
		reply = s.polls[0]
		if len(s.polls) > 1 {
			s.polls = s.polls[1:]
		}
	}
	s.mu.Unlock()

	s.reply(c, reply)
}

func (s *Server) reply(c *gin.Context, r Response) {
	if r.Delay > 0 {
		select {
		case <-c.Request.Context().Done():
			return
		case <-time.After(r.Delay):
		}
	}
	status := r.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	if r.Raw != "" {
		c.Data(status, "text/plain", []byte(r.Raw))
		return
	}
	env := gin.H{"code": r.Code, "msg": r.Msg}
	if r.Data != nil {
		env["data"] = r.Data
	}
	payload, _ := json.Marshal(env)
	c.Data(status, "application/json", payload)
}
