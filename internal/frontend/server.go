// Package frontend serves the transaction form over HTTP as a JSON API with
// a server-sent events stream of state changes.
package frontend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/httprate"

	"github.com/Vee-data-analytics/new-sim/internal/ledger"
	"github.com/Vee-data-analytics/new-sim/internal/pumpsim"
)

const eventBuffer = 16

type Server struct {
	form   *pumpsim.Form
	logger *httplog.Logger
}

type submitResponse struct {
	Entry *ledger.Entry     `json:"entry,omitempty"`
	Error string            `json:"error,omitempty"`
	View  pumpsim.ViewModel `json:"view"`
}

// NewRouter builds the HTTP handler. rateLimit is the number of requests
// allowed per client IP and minute.
func NewRouter(form *pumpsim.Form, logger *httplog.Logger, rateLimit int) http.Handler {
	s := &Server{form: form, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(rateLimit, time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Get("/reference", s.getReference)
		r.Post("/reference/reload", s.reloadReference)
		r.Get("/form", s.getForm)
		r.Put("/form", s.putForm)
		r.Post("/form/submit", s.submit)
		r.Get("/transactions", s.listTransactions)
		r.Get("/summary", s.summary)
		r.Get("/events", s.events)
	})

	return r
}

func (s *Server) getReference(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.form.View().Reference)
}

func (s *Server) reloadReference(w http.ResponseWriter, r *http.Request) {
	s.form.Reload(r.Context())
	writeJSON(w, http.StatusOK, s.form.View().Reference)
}

func (s *Server) getForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.form.View())
}

func (s *Server) putForm(w http.ResponseWriter, r *http.Request) {
	in, err := decodeUpdate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if in != nil {
		if err := s.form.Apply(r.Context(), *in); err != nil {
			writeError(w, inputErrorStatus(err), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.form.View())
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	in, err := decodeUpdate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if in != nil {
		if err := s.form.Apply(r.Context(), *in); err != nil {
			writeError(w, inputErrorStatus(err), err)
			return
		}
	}

	entry, err := s.form.Submit(r.Context())
	resp := submitResponse{}

	var verr *pumpsim.ValidationError
	status := http.StatusCreated
	switch {
	case err == nil:
		resp.Entry = &entry
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pumpsim.ErrNotLogged):
		status = http.StatusBadGateway
		resp.Entry = &entry
	case errors.Is(err, pumpsim.ErrSubmitInProgress):
		status = http.StatusConflict
	default:
		s.logger.Error("Submission failed", "error", err)
		status = http.StatusInternalServerError
	}
	if err != nil {
		resp.Error = err.Error()
	}
	resp.View = s.form.View()

	writeJSON(w, status, resp)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.form.State().Ledger().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.form.State().Ledger().Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// events streams one "snapshot" event per state change, starting with the
// current one. Slow readers miss intermediate snapshots, never the latest.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	updates := make(chan pumpsim.Snapshot, eventBuffer)
	unsubscribe := s.form.State().Subscribe(func(snap pumpsim.Snapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, s.form.State().Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if err := writeEvent(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, snap pumpsim.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}

// decodeUpdate returns nil for an empty body.
func decodeUpdate(r *http.Request) (*pumpsim.Update, error) {
	var in pumpsim.Update
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &in, nil
}

func inputErrorStatus(err error) int {
	if errors.Is(err, pumpsim.ErrSubmitInProgress) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
