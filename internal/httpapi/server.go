package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	apimw "github.com/servcheck/prober/internal/httpapi/middleware"
	"github.com/servcheck/prober/internal/probe"
	"github.com/servcheck/prober/internal/repo"
)

const maxSpecBytes = 64 << 10

type Server struct {
	Logger  *zap.Logger
	Tests   repo.TestStore
	Results repo.ResultStore
	Prober  probe.Prober
}

func NewServer(l *zap.Logger, ts repo.TestStore, rs repo.ResultStore, p probe.Prober) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Tests: ts, Results: rs, Prober: p}
}

// Router wires the public read routes and the admin probe routes. An empty
// origins list allows any origin.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(pubRPM, pubBurst))
		r.Use(apimw.RequireAny(keys))
		r.Get("/api/tests", s.handleListTests)
		r.Get("/api/results/latest", s.handleLatest)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(admRPM, admBurst))
		r.Use(apimw.RequireAdmin(keys))
		r.Post("/api/tests/{id}/probe", s.handleProbeTest)
		r.With(apimw.RequireAdminKeys(keys)).Post("/api/probe", s.handleProbeSpec)
	})

	return r
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Tests.Tests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	out := make([]domain.TestSpec, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Results.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "results error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleProbeTest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad test id")
		return
	}
	spec, err := s.Tests.Test(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup error")
		return
	}

	res := s.Prober.Probe(r.Context(), spec)
	if err := s.Results.Append(r.Context(), res); err != nil {
		s.Logger.Warn("result_append_failed", zap.Int("test_id", id), zap.Error(err))
	}
	s.Logger.Info("api_probe",
		zap.Int("test_id", id),
		zap.String("result", string(res.Result)),
		zap.String("result_search", string(res.ResultSearch)),
	)
	writeJSON(w, http.StatusOK, res)
}

// handleProbeSpec runs a spec sent in the request body. Its result is not recorded.
func (s *Server) handleProbeSpec(w http.ResponseWriter, r *http.Request) {
	var spec domain.TestSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSpecBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil || spec.Type == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	res := s.Prober.Probe(r.Context(), spec)
	s.Logger.Info("api_probe_adhoc",
		zap.String("type", spec.Type),
		zap.String("result", string(res.Result)),
	)
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
