package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tiensd92/voip-linphone-sdk/internal/api/middleware"
	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

// Options configures the HTTP surface.
type Options struct {
	Service *voip.Service
	// CallUI enables the call UI stream when non-nil. It should be the same
	// value passed to the service as its voip.CallUI.
	CallUI *CallUIStream
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// JWTSecret enables bearer auth on every route except health and
	// metrics when non-empty.
	JWTSecret   string
	CORSOrigins []string
	// RateLimit is the per-caller request rate for mutating routes. Zero
	// disables limiting.
	RateLimit int
	Logger    *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	svc     *voip.Service
	callUI  *CallUIStream
	metrics http.Handler
	secret  []byte
	origins []string
	limiter *middleware.CallerRateLimiter
	logger  *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		svc:     opts.Service,
		callUI:  opts.CallUI,
		metrics: opts.Metrics,
		origins: opts.CORSOrigins,
		logger:  logger.With("subsystem", "api"),
	}
	if opts.JWTSecret != "" {
		s.secret = []byte(opts.JWTSecret)
	}
	if opts.RateLimit > 0 {
		s.limiter = middleware.NewCallerRateLimiter(middleware.NewRateLimitConfig(opts.RateLimit))
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(s.origins))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.secret != nil {
				r.Use(middleware.RequireClientAuth(s.secret))
			}

			r.Get("/status", s.handleStatus)
			r.Get("/events", s.handleEvents)
			r.Get("/callui/stream", s.handleCallUIStream)

			r.Group(func(r chi.Router) {
				if s.limiter != nil {
					r.Use(middleware.RateLimit(s.limiter))
				}

				r.Post("/commands/{name}", s.handleCommand)
				r.Post("/push", s.handlePush)
				r.Post("/callui/answer", s.handleCallUIAnswer)
				r.Post("/callui/end", s.handleCallUIEnd)
				r.Post("/callui/audio-session", s.handleCallUIAudioSession)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Info("api routes mounted", "auth", s.secret != nil, "rate_limit", s.limiter != nil)
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusView struct {
	Registration        string         `json:"registration"`
	RegistrationMessage string         `json:"registrationMessage,omitempty"`
	SessionActive       bool           `json:"sessionActive"`
	CallID              string         `json:"callId,omitempty"`
	Arbitration         string         `json:"arbitration"`
	CallUIClients       int            `json:"callUIClients"`
	EventCounts         map[string]int `json:"eventCounts"`
	Outcomes            map[string]int `json:"outcomes"`
	Dropped             int            `json:"dropped"`
}

// handleStatus returns a snapshot of the bridge state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	view := statusView{
		Registration:        st.Registration.String(),
		RegistrationMessage: st.RegistrationMessage,
		SessionActive:       st.SessionActive,
		Arbitration:         st.Arbitration.String(),
		EventCounts:         make(map[string]int, len(st.EventCounts)),
		Outcomes:            st.Outcomes,
		Dropped:             st.Dropped,
	}
	if st.SessionActive {
		view.CallID = st.Session.CorrelationID
	}
	if s.callUI != nil {
		view.CallUIClients = s.callUI.Clients()
	}
	for name, n := range st.EventCounts {
		view.EventCounts[string(name)] = n
	}
	writeJSON(w, http.StatusOK, view)
}
