// CLAUDE:SUMMARY chi routes for /services/botrule (replace, list, delete, hostlist, events, preview) with the {code,msg,data} envelope.
package botrule

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/botrule/shield"
)

// Response is the envelope of every non-600 answer.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Routes mounts the rule endpoints under /services/botrule, plus /health.
func (s *Service) Routes(r chi.Router) {
	r.Route("/services/botrule", func(r chi.Router) {
		r.Post("/", s.handleReplace)
		r.Get("/", s.handleList)
		r.Delete("/", s.handleDelete)
		r.Get("/hostlist", s.handleHostList)
		r.Get("/events", s.handleEvents)
		r.Post("/preview", s.handlePreview)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Service) handleReplace(w http.ResponseWriter, r *http.Request) {
	p, ok := ParseJSONBody(w, r, "host", "ruleName", "selector")
	if !ok {
		return
	}
	inputs, err := DecodeInputs(p)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	if err := s.Replace(r.Context(), inputs); err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: CodeOK})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	rules, err := s.List(r.Context(), r.URL.Query().Get("host"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: CodeOK, Data: rules})
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Delete(r.Context(), r.URL.Query().Get("host")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: CodeOK})
}

func (s *Service) handleHostList(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.Hosts(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: CodeOK, Data: hosts})
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.Events(r.Context(), r.URL.Query().Get("host"), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: CodeOK, Data: events})
}

func (s *Service) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := ParseJSONBody(w, r, "url")
	if !ok {
		return
	}
	single, isSingle := p.(Single)
	if !isSingle {
		writeBodyError(w, &BodyError{Msg: "preview expects a JSON object"})
		return
	}
	var req PreviewRequest
	if err := json.Unmarshal(single.Value, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	res, err := s.Preview(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: CodeOK, Data: res})
}

// respondErr maps domain rejections to their envelope code (HTTP 200) and
// everything else to a 500.
func (s *Service) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var de *DomainError
	if errors.As(err, &de) {
		shield.GetLogger(r.Context()).Warn("botrule: rejected", "code", de.Code, "msg", de.Msg)
		writeJSON(w, http.StatusOK, Response{Code: de.Code, Msg: de.Msg})
		return
	}
	shield.GetLogger(r.Context()).Error("botrule: request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, Response{Code: CodeInternal, Msg: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
