package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"hublink/opc"
)

// StatusResponse is the JSON response for the adapter status.
type StatusResponse struct {
	Endpoint  string `json:"endpoint"`
	Status    string `json:"status"`
	Monitored int    `json:"monitored"`
	MapName   string `json:"map_name,omitempty"`
	MapState  string `json:"map_state,omitempty"`
}

// VariableResponse is the JSON response for one variable.
type VariableResponse struct {
	Node    string      `json:"node"`
	Name    string      `json:"name"`
	Class   string      `json:"class"`
	Value   interface{} `json:"value"`
	Average *float64    `json:"average,omitempty"`
	Samples int         `json:"samples"`
}

// SampleResponse is one time-tagged history entry.
type SampleResponse struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// LogResponse is one status log entry.
type LogResponse struct {
	Time     string `json:"time"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// MapResponse describes the working identifier map.
type MapResponse struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	Persisted       bool   `json:"persisted"`
	Correspondences int    `json:"correspondences"`
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/variables", s.handleVariables)
		r.Get("/variables/{node}", s.handleVariable)
		r.Get("/variables/{node}/history", s.handleHistory)
		r.Get("/map", s.handleMap)
		r.Get("/log", s.handleLog)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: opc.Disconnected.String()}
	if sess := s.engine.Session(); sess != nil {
		resp.Status = sess.Status().String()
		resp.Monitored = sess.MonitoredCount()
	}
	if svc := s.engine.MapService(); svc != nil {
		if m := svc.Map(); m != nil {
			resp.MapName = m.Name
			resp.MapState = svc.State().String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func variableResponse(v *opc.Variable) VariableResponse {
	resp := VariableResponse{
		Node:    v.NodeID(),
		Name:    v.DisplayName(),
		Class:   v.Class().String(),
		Value:   v.CurrentValue(),
		Samples: len(v.History()),
	}
	if avg, err := v.AverageValue(); err == nil {
		resp.Average = &avg
	}
	return resp
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	vars := s.engine.Variables()
	resp := make([]VariableResponse, 0, len(vars))
	for _, v := range vars {
		resp = append(resp, variableResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) variableFromPath(r *http.Request) *opc.Variable {
	node, err := url.PathUnescape(chi.URLParam(r, "node"))
	if err != nil {
		return nil
	}
	return s.engine.Variable(node)
}

func (s *Server) handleVariable(w http.ResponseWriter, r *http.Request) {
	v := s.variableFromPath(r)
	if v == nil {
		writeError(w, http.StatusNotFound, "variable not found")
		return
	}
	writeJSON(w, http.StatusOK, variableResponse(v))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	v := s.variableFromPath(r)
	if v == nil {
		writeError(w, http.StatusNotFound, "variable not found")
		return
	}
	history := v.History()
	resp := make([]SampleResponse, 0, len(history))
	for _, t := range history {
		resp = append(resp, SampleResponse{Time: t.Time, Value: t.Value})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	svc := s.engine.MapService()
	if svc == nil {
		writeError(w, http.StatusNotFound, "no mapping service")
		return
	}
	m := svc.Map()
	if m == nil {
		writeError(w, http.StatusNotFound, "no identifier map assigned")
		return
	}
	writeJSON(w, http.StatusOK, MapResponse{
		Name:            m.Name,
		State:           svc.State().String(),
		Persisted:       m.IsPersisted(),
		Correspondences: len(m.Correspondences),
	})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	entries := s.engine.StatusLog().Entries()
	resp := make([]LogResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, LogResponse{
			Time:     e.Time.UTC().Format(time.RFC3339Nano),
			Severity: e.Severity.String(),
			Message:  e.Message,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
