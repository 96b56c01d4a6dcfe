// Package service exposes the proving API over HTTP JSON.
//
// Four POST endpoints mirror the orchestrator operations: register_app,
// estimate_cost, prove_task, proving_result. Domain failures are
// reported in-band through the err field with a stable code, so clients
// distinguish "your program exceeded its cycle budget" from transport
// errors by inspecting the payload, not the status line.
package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zkforge/zkforge/internal/manifest"
	"github.com/zkforge/zkforge/internal/orchestrator"
)

// DefaultMaxRequestSize bounds request bodies (programs ride inline).
const DefaultMaxRequestSize = 8 * 1024 * 1024 // 8 MB

// Server handles the proving API.
type Server struct {
	orc     *orchestrator.Orchestrator
	log     *slog.Logger
	maxBody int64
}

// NewServer creates a Server around an orchestrator.
func NewServer(orc *orchestrator.Orchestrator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orc: orc, log: log, maxBody: DefaultMaxRequestSize}
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/register_app", s.handleRegisterApp)
	mux.HandleFunc("/v1/estimate_cost", s.handleEstimateCost)
	mux.HandleFunc("/v1/prove_task", s.handleProveTask)
	mux.HandleFunc("/v1/proving_result", s.handleProvingResult)
	mux.HandleFunc("/v1/list_apps", s.handleListApps)
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	return s.logRequests(mux)
}

// APIError is the in-band error object.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RegisterAppRequest struct {
	Program     string `json:"program"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type RegisterAppResponse struct {
	AppID   string    `json:"app_id,omitempty"`
	Created bool      `json:"created,omitempty"`
	Err     *APIError `json:"err,omitempty"`
}

func (s *Server) handleRegisterApp(w http.ResponseWriter, r *http.Request) {
	var req RegisterAppRequest
	if !s.decode(w, r, &req) {
		return
	}

	program, err := hex.DecodeString(req.Program)
	if err != nil {
		s.respond(w, RegisterAppResponse{Err: inband(orchestrator.CodeInvalidArgument, fmt.Errorf("program is not hex: %w", err))})
		return
	}

	appID, created, err := s.orc.RegisterApp(r.Context(), program, manifest.AppInfo{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.respond(w, RegisterAppResponse{Err: inband(orchestrator.Classify(err), err)})
		return
	}
	s.respond(w, RegisterAppResponse{AppID: appID, Created: created})
}

type EstimateCostRequest struct {
	AppID  string   `json:"app_id"`
	Inputs []string `json:"inputs"`
}

type EstimateCostResponse struct {
	Cycles   uint64    `json:"cycles,omitempty"`
	Chunks   int       `json:"chunks,omitempty"`
	Cost     uint64    `json:"cost,omitempty"`
	PVDigest string    `json:"pv_digest,omitempty"`
	Err      *APIError `json:"err,omitempty"`
}

func (s *Server) handleEstimateCost(w http.ResponseWriter, r *http.Request) {
	var req EstimateCostRequest
	if !s.decode(w, r, &req) {
		return
	}

	inputs, err := decodeHexInputs(req.Inputs)
	if err != nil {
		s.respond(w, EstimateCostResponse{Err: inband(orchestrator.CodeInvalidArgument, err)})
		return
	}

	est, err := s.orc.EstimateCost(r.Context(), req.AppID, inputs)
	if err != nil {
		s.respond(w, EstimateCostResponse{Err: inband(orchestrator.Classify(err), err)})
		return
	}
	s.respond(w, EstimateCostResponse{
		Cycles:   est.Cycles,
		Chunks:   est.Chunks,
		Cost:     est.Cost,
		PVDigest: est.PVDigest,
	})
}

type ProveTaskRequest struct {
	AppID string `json:"app_id"`

	// TaskID is optional; when empty the service derives one from the
	// app and inputs.
	TaskID string   `json:"task_id,omitempty"`
	Inputs []string `json:"inputs"`
	UseGPU bool     `json:"use_gpu"`
	Hint   string   `json:"backend_hint"`
}

type ProveTaskResponse struct {
	TaskID  string    `json:"task_id,omitempty"`
	Created bool      `json:"created,omitempty"`
	Err     *APIError `json:"err,omitempty"`
}

func (s *Server) handleProveTask(w http.ResponseWriter, r *http.Request) {
	var req ProveTaskRequest
	if !s.decode(w, r, &req) {
		return
	}

	inputs, err := decodeHexInputs(req.Inputs)
	if err != nil {
		s.respond(w, ProveTaskResponse{Err: inband(orchestrator.CodeInvalidArgument, err)})
		return
	}

	hint := req.Hint
	if hint == "" && req.UseGPU {
		hint = "gpu"
	}

	taskID, created, err := s.orc.SubmitTask(r.Context(), req.AppID, req.TaskID, inputs, hint)
	if err != nil {
		s.respond(w, ProveTaskResponse{Err: inband(orchestrator.Classify(err), err)})
		return
	}
	s.respond(w, ProveTaskResponse{TaskID: taskID, Created: created})
}

// ProvingResultRequest addresses one task by its (app_id, task_id)
// pair; task ids are scoped per app.
type ProvingResultRequest struct {
	AppID  string `json:"app_id"`
	TaskID string `json:"task_id"`
}

type ProvingResultResponse struct {
	AppID       string    `json:"app_id,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	State       string    `json:"state,omitempty"`
	ChunksDone  int       `json:"chunks_done"`
	ChunksTotal int       `json:"chunks_total"`
	Cycles      uint64    `json:"cycles,omitempty"`
	PVDigest    string    `json:"pv_digest,omitempty"`
	Proof       string    `json:"proof,omitempty"`
	Err         *APIError `json:"err,omitempty"`
}

func (s *Server) handleProvingResult(w http.ResponseWriter, r *http.Request) {
	var req ProvingResultRequest
	if !s.decode(w, r, &req) {
		return
	}

	task, err := s.orc.Result(r.Context(), req.AppID, req.TaskID)
	if err != nil {
		s.respond(w, ProvingResultResponse{Err: inband(orchestrator.Classify(err), err)})
		return
	}

	resp := ProvingResultResponse{
		AppID:       task.AppID,
		TaskID:      task.TaskID,
		State:       string(task.State),
		ChunksDone:  task.ChunksDone,
		ChunksTotal: task.ChunksTotal,
		Cycles:      task.Cycles,
		PVDigest:    task.PVDigest,
		Proof:       hex.EncodeToString(task.Envelope),
	}
	if task.ErrCode != "" {
		resp.Err = &APIError{Code: task.ErrCode, Message: task.ErrMessage}
	}
	s.respond(w, resp)
}

type ListAppsRequest struct{}

// AppSummary is one registered app without its program bytes.
type AppSummary struct {
	AppID         string `json:"app_id"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	ProgramKeccak string `json:"program_keccak"`
	CreatedAt     string `json:"created_at"`
}

type ListAppsResponse struct {
	Apps []AppSummary `json:"apps"`
	Err  *APIError    `json:"err,omitempty"`
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	var req ListAppsRequest
	if !s.decode(w, r, &req) {
		return
	}

	apps, err := s.orc.ListApps(r.Context())
	if err != nil {
		s.respond(w, ListAppsResponse{Err: inband(orchestrator.Classify(err), err)})
		return
	}

	summaries := make([]AppSummary, len(apps))
	for i, app := range apps {
		summaries[i] = AppSummary{
			AppID:         app.AppID,
			Name:          app.Name,
			Description:   app.Description,
			ProgramKeccak: app.ProgramKeccak,
			CreatedAt:     app.CreatedAt,
		}
	}
	s.respond(w, ListAppsResponse{Apps: summaries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// decode parses a POST JSON body, writing the transport-level error
// response itself when parsing fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	if dec.More() {
		http.Error(w, "trailing data after request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// logRequests wraps the mux with structured access logging.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"elapsed", time.Since(start),
		)
	})
}

func inband(code orchestrator.Code, err error) *APIError {
	return &APIError{Code: string(code), Message: err.Error()}
}

func decodeHexInputs(inputs []string) ([][]byte, error) {
	out := make([][]byte, len(inputs))
	for i, s := range inputs {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d] is not hex: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// Serve runs the API on addr until ctx is done, then shuts down
// gracefully. Used by the serve command.
func Serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
