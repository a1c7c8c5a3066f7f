package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/pkg/domain"
)

type flowRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// parseFlowBody decodes and validates a flow payload, writing the
// error response itself when the payload is unusable.
func (s *Server) parseFlowBody(w http.ResponseWriter, r *http.Request) (*flowRequest, *domain.FlowConfig, bool) {
	var body flowRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	if len(body.Config) == 0 {
		writeError(w, http.StatusBadRequest, "flow config is required")
		return nil, nil, false
	}
	cfg, result, err := flow.Parse(body.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	if !result.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": result.Errors})
		return nil, nil, false
	}
	return &body, cfg, true
}

func (s *Server) listFlows(w http.ResponseWriter, r *http.Request) {
	records, err := s.flows.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": records})
}

func (s *Server) createFlow(w http.ResponseWriter, r *http.Request) {
	body, cfg, ok := s.parseFlowBody(w, r)
	if !ok {
		return
	}
	name := body.Name
	if name == "" {
		name = cfg.Meta.Name
	}
	record, err := s.flows.Create(r.Context(), name, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	record, err := s.flows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) updateFlow(w http.ResponseWriter, r *http.Request) {
	_, cfg, ok := s.parseFlowBody(w, r)
	if !ok {
		return
	}
	record, err := s.flows.Update(r.Context(), chi.URLParam(r, "id"), cfg)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) deleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.flows.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) publishFlow(w http.ResponseWriter, r *http.Request) {
	record, err := s.flows.Publish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) flowVersions(w http.ResponseWriter, r *http.Request) {
	records, err := s.flows.Versions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": records})
}

func (s *Server) validateFlow(w http.ResponseWriter, r *http.Request) {
	var body flowRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := flow.FromMap(body.Config)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "errors": []string{err.Error()}})
		return
	}
	result := flow.Validate(cfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// flowInfo returns the flow structure for visualization: the session's
// bound flow when session_id is given, the built-in demo flow otherwise.
func (s *Server) flowInfo(w http.ResponseWriter, r *http.Request) {
	cfg := flow.ReservationFlow()
	response := map[string]any{}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		bound, err := s.store.LoadFlow(r.Context(), sessionID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		cfg = bound
		state, err := s.store.LoadState(r.Context(), sessionID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		response["session"] = state
	}

	states := make([]map[string]any, 0, len(cfg.States))
	for _, name := range sortedKeys(cfg.States) {
		st := cfg.States[name]
		targets := []string{}
		for _, tr := range st.Transitions {
			if tr.To != "" {
				targets = append(targets, tr.To)
			}
			for _, arm := range tr.Branch {
				targets = append(targets, arm.To)
			}
		}
		states = append(states, map[string]any{
			"name":     name,
			"terminal": st.Terminal(),
			"targets":  targets,
		})
	}

	response["meta"] = cfg.Meta
	response["start"] = cfg.Start
	response["states"] = states
	response["intents"] = sortedKeys(cfg.Intents)
	response["tools"] = sortedKeys(cfg.Tools)
	writeJSON(w, http.StatusOK, response)
}

func writeFlowError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrFlowNotFound) {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
