package codedrop

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/codedrop/internal/kit"
)

// maxRequestBody bounds control API request bodies. Submitted code is the
// only large field.
const maxRequestBody = 8 << 20

// NewHandler returns the control API over svc. Ending a session through
// it only deletes stored state; use Daemon.Handler to also stop watching
// the tab.
func NewHandler(svc *Service, logger *slog.Logger) http.Handler {
	return newRouter(newEndpoints(svc), logger)
}

// Handler returns the control API of a running daemon.
func (d *Daemon) Handler() http.Handler {
	return newRouter(d.endpoints(), d.logger)
}

func (d *Daemon) endpoints() *endpoints {
	e := newEndpoints(d.svc)
	e.end = d.EndSession
	e.watched = d.Sessions
	e.rescan = d.Rescan
	return e
}

type httpDecode func(*http.Request) (any, error)

func newRouter(e *endpoints, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpAPI{logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/activation", h.route("get_activation", noBody, e.getActivation))
	r.Put("/activation", h.route("store_activation", jsonBody[activationRequest](nil), e.storeActivation))
	r.Get("/test_connection", h.route("test_connection", func(r *http.Request) (any, error) {
		return &testConnectionRequest{Port: r.URL.Query().Get("port")}, nil
	}, e.testConnection))

	r.Get("/sessions", h.route("sessions", noBody, e.sessions))
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Delete("/", h.route("end_session", sessionParam, e.endSession))
		r.Get("/port", h.route("get_port", sessionParam, e.getPort))
		r.Put("/port", h.route("store_port", jsonBody(func(r *http.Request, req *storePortRequest) {
			req.SessionID = chi.URLParam(r, "id")
		}), e.storePort))
		r.Get("/blocks", h.route("list_block_statuses", sessionParam, e.listBlockStatuses))
		r.Get("/blocks/{fp}", h.route("get_block_status", blockParams, e.getBlockStatus))
		r.Put("/blocks/{fp}", h.route("set_block_status", jsonBody(func(r *http.Request, req *blockRequest) {
			req.SessionID = chi.URLParam(r, "id")
			req.Fingerprint = chi.URLParam(r, "fp")
		}), e.setBlockStatus))
		r.Post("/submit", h.route("submit_code", jsonBody(func(r *http.Request, req *submitRequest) {
			req.SessionID = chi.URLParam(r, "id")
		}), e.submitCode))
	})

	return r
}

type httpAPI struct {
	logger *slog.Logger
}

// route decodes the request, runs ep through the logging middleware and
// writes its response as JSON.
func (h *httpAPI) route(op string, decode httpDecode, ep kit.Endpoint) http.HandlerFunc {
	ep = kit.Logging(h.logger, op)(ep)
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(r.Context()))
		if id := chi.URLParam(r, "id"); id != "" {
			ctx = kit.WithSessionID(ctx, id)
		}

		resp, err := ep(ctx, req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(err error) int {
	if errors.Is(err, ErrInvalidSession) || errors.Is(err, ErrInvalidPort) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func noBody(*http.Request) (any, error) { return nil, nil }

func sessionParam(r *http.Request) (any, error) {
	return &sessionRequest{SessionID: chi.URLParam(r, "id")}, nil
}

func blockParams(r *http.Request) (any, error) {
	return &blockRequest{SessionID: chi.URLParam(r, "id"), Fingerprint: chi.URLParam(r, "fp")}, nil
}

// jsonBody decodes the request body into a fresh *T, then lets fill copy
// path parameters into it.
func jsonBody[T any](fill func(*http.Request, *T)) httpDecode {
	return func(r *http.Request) (any, error) {
		req := new(T)
		dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
		if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("codedrop: decode body: %w", err)
		}
		if fill != nil {
			fill(r, req)
		}
		return req, nil
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
