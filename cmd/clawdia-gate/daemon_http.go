package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chillysbabybackribs/clawdia/guard"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBody = 1 << 20

type daemonServer struct {
	rt        *gateRuntime
	authToken string
	log       *slog.Logger
}

func newDaemonServer(rt *gateRuntime, authToken string, log *slog.Logger) *daemonServer {
	if log == nil {
		log = slog.Default()
	}
	return &daemonServer{rt: rt, authToken: strings.TrimSpace(authToken), log: log}
}

func (s *daemonServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/authorize", s.auth(s.handleAuthorize))
	mux.HandleFunc("GET /v1/approvals", s.auth(s.handleListApprovals))
	mux.HandleFunc("POST /v1/approvals/{id}", s.auth(s.handleResolveApproval))
	mux.HandleFunc("DELETE /v1/tasks/{id}/approvals", s.auth(s.handleClearTask))
	mux.HandleFunc("GET /v1/mode", s.auth(s.handleGetMode))
	mux.HandleFunc("PUT /v1/mode", s.auth(s.handleSetMode))
	mux.HandleFunc("GET /v1/overrides", s.auth(s.handleOverrides))
	mux.HandleFunc("POST /v1/classify", s.auth(s.handleClassify))
	mux.HandleFunc("POST /v1/executions", s.auth(s.handleExecution))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.rt.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.rt.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *daemonServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.authToken == "" {
		return next
	}
	want := []byte("Bearer " + s.authToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *daemonServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		writeError(w, http.StatusBadRequest, "missing tool")
		return
	}
	call := guard.Call{Tool: strings.TrimSpace(req.Tool), Input: req.Input, TaskID: strings.TrimSpace(req.TaskID)}

	start := time.Now()
	var (
		res guard.Result
		err error
	)
	if strings.TrimSpace(req.Mode) != "" {
		mode, perr := guard.ParseAutonomyMode(req.Mode)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		res, err = s.rt.Gate.AuthorizeInMode(r.Context(), mode, call, s.rt.Pending.Request)
	} else {
		res, err = s.rt.Gate.Authorize(r.Context(), call, s.rt.Pending.Request)
	}
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, guard.ErrBrokerClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, r.Context().Err()):
			// Client went away; nobody reads the response.
			status = http.StatusRequestTimeout
		}
		s.log.Warn("daemon_authorize_error", "tool", call.Tool, "task_id", call.TaskID, "error", err.Error())
		writeError(w, status, err.Error())
		return
	}
	s.log.Info("daemon_authorize",
		"tool", call.Tool,
		"task_id", call.TaskID,
		"risk", string(res.Risk),
		"allowed", res.Allowed,
		"took", time.Since(start).String(),
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *daemonServer) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ApprovalsResponse{Items: s.rt.Pending.List()})
}

func (s *daemonServer) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var req ResolveApprovalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	decision, err := guard.ParseApprovalDecision(req.Decision)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := guard.ParseDecisionSource(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.rt.Pending.Resolve(r.Context(), id, decision, source); err != nil {
		switch {
		case errors.Is(err, guard.ErrUnknownRequest):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, guard.ErrAlreadyResolved):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *daemonServer) handleClearTask(w http.ResponseWriter, r *http.Request) {
	s.rt.Gate.ClearTaskApprovals(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *daemonServer) handleGetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.rt.Gate.Mode(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ModeBody{Mode: mode})
}

func (s *daemonServer) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var body ModeBody
	if !decodeBody(w, r, &body) {
		return
	}
	mode, err := guard.ParseAutonomyMode(string(body.Mode))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.rt.Gate.SetMode(r.Context(), mode); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ModeBody{Mode: mode})
}

func (s *daemonServer) handleOverrides(w http.ResponseWriter, r *http.Request) {
	m, err := s.rt.Gate.Overrides().Globals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, OverridesResponse{Always: sortedRisks(m)})
}

func (s *daemonServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.rt.Gate.ClassifyAction(strings.TrimSpace(req.Tool), req.Input))
}

func (s *daemonServer) handleExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecutionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		writeError(w, http.StatusBadRequest, "missing tool")
		return
	}
	rep := guard.ExecutionReport{
		TaskID:    req.TaskID,
		RequestID: req.RequestID,
		Tool:      strings.TrimSpace(req.Tool),
		Input:     req.Input,
		Duration:  time.Duration(req.DurationMs) * time.Millisecond,
		ExitCode:  req.ExitCode,
	}
	if strings.TrimSpace(req.Error) != "" {
		rep.Err = errors.New(req.Error)
	}
	s.rt.Gate.RecordExecution(r.Context(), rep)
	w.WriteHeader(http.StatusAccepted)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
