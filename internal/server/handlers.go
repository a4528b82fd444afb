package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/imamik/shipgate/internal/artifact"
	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// DecisionRequest is the body of the approve and reject endpoints.
type DecisionRequest struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment,omitempty"`
}

// AbortRequest is the body of the abort endpoint.
type AbortRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AbortResponse reports whether the abort changed the run.
type AbortResponse struct {
	Aborted bool              `json:"aborted"`
	Run     pipeline.Snapshot `json:"run"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var trigger pipeline.Trigger
	if err := decodeBody(r, &trigger); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if trigger.TriggeredBy == "" {
		trigger.TriggeredBy = actorFromRequest(r)
	}

	run, err := s.manager.Start(s.runCtx, trigger)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Location", "/runs/"+run.ID)
	writeJSON(w, http.StatusCreated, run.Snapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.manager.List()

	if s.records != nil {
		stored, err := s.records.Records(r.Context())
		if err != nil {
			s.log.Error(err, "failed to list run records")
		}
		live := make(map[string]bool, len(runs))
		for _, snap := range runs {
			live[snap.ID] = true
		}
		var history []pipeline.Snapshot
		for _, snap := range stored {
			if !live[snap.ID] {
				history = append(history, snap)
			}
		}
		runs = append(history, runs...)
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := runs[:0]
		for _, snap := range runs {
			if string(snap.Status) == status {
				filtered = append(filtered, snap)
			}
		}
		runs = filtered
	}
	if runs == nil {
		runs = []pipeline.Snapshot{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.manager.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, run.Snapshot())
		return
	}

	if s.records != nil {
		snap, rerr := s.records.GetRecord(r.Context(), id)
		if rerr == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if !errors.Is(rerr, artifact.ErrNotFound) {
			s.writeError(w, http.StatusInternalServerError, rerr)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, err)
}

func (s *Server) handlePendingGates(w http.ResponseWriter, r *http.Request) {
	run, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	gates := run.PendingGates()
	if gates == nil {
		gates = []pipeline.GateState{}
	}
	writeJSON(w, http.StatusOK, gates)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req AbortRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	id := chi.URLParam(r, "id")
	reason := req.Reason
	if reason == "" {
		reason = "aborted by " + actorFromRequest(r)
	}
	aborted, err := s.manager.Abort(id, reason)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	run, _ := s.manager.Get(id)
	if aborted {
		s.log.Info("run aborted", "run", id, "reason", reason)
	}
	writeJSON(w, http.StatusOK, AbortResponse{Aborted: aborted, Run: run.Snapshot()})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	decision, err := pipeline.ParseDecision(chi.URLParam(r, "decision"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req DecisionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Actor == "" {
		req.Actor = actorFromRequest(r)
	}

	runID, gateID := chi.URLParam(r, "id"), chi.URLParam(r, "gate")
	if err := s.manager.Resolve(runID, gateID, decision, req.Actor, req.Comment); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.log.Info("gate resolved", "run", runID, "gate", gateID, "decision", string(decision), "actor", req.Actor)

	run, _ := s.manager.Get(runID)
	gate, _ := run.Gate(gateID)
	writeJSON(w, http.StatusOK, gate)
}

func (s *Server) handleOutputs(w http.ResponseWriter, _ *http.Request) {
	outputs := s.outputs
	if outputs == nil {
		outputs = []config.Output{}
	}
	writeJSON(w, http.StatusOK, outputs)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound), errors.Is(err, pipeline.ErrGateNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrGateResolved), errors.Is(err, pipeline.ErrRunFinished):
		return http.StatusConflict
	case pipeline.IsConfigError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// actorFromRequest names the caller when the body does not.
func actorFromRequest(r *http.Request) string {
	if actor := r.Header.Get("X-Shipgate-Actor"); actor != "" {
		return actor
	}
	return "api"
}

// decodeBody decodes an optional JSON body. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error(err, "request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
