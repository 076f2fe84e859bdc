package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/upic/reader/internal/clock"
	"github.com/upic/reader/internal/upic/service"
	"github.com/upic/reader/internal/upic/types"
)

// CredentialDirectory is the credential store as seen by the admin API.
type CredentialDirectory interface {
	Lookup(id string) (types.CredentialRecord, bool)
	Reload() bool
	Size() int
	Fingerprint() string
	LastReloadTime() time.Time
}

// StatusSource yields the controller's latest snapshot.
type StatusSource interface {
	Latest() (types.Snapshot, bool)
}

// AuditReader lists the audit entries of one day.
type AuditReader interface {
	ListDay(ctx context.Context, day string) ([]types.AuditEntry, error)
}

type Dependencies struct {
	Logger      *slog.Logger
	Addr        string
	Credentials CredentialDirectory
	Status      StatusSource
	Policy      service.AccessPolicy

	// Audit is optional; without it /v1/audit answers 404.
	Audit AuditReader
	Clock clock.Clock
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	mux         *http.ServeMux
	credentials CredentialDirectory
	status      StatusSource
	policy      service.AccessPolicy
	audit       AuditReader
	clock       clock.Clock
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	if d.Clock == nil {
		d.Clock = clock.Real()
	}

	s := &Server{
		logger:      d.Logger,
		mux:         mux,
		credentials: d.Credentials,
		status:      d.Status,
		policy:      d.Policy,
		audit:       d.Audit,
		clock:       d.Clock,
	}

	mux.HandleFunc("POST /v1/reload", s.handleReload)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/credentials/{id}", s.handleCredential)
	mux.HandleFunc("GET /v1/audit/{day}", s.handleAuditDay)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	reloaded := s.credentials.Reload()
	if reloaded {
		s.logger.Info("credential directory reloaded via admin API", "records", s.credentials.Size())
	}

	resp := types.ReloadResponse{
		OK:          true,
		Reloaded:    reloaded,
		Records:     s.credentials.Size(),
		Fingerprint: s.credentials.Fingerprint(),
	}
	if t := s.credentials.LastReloadTime(); !t.IsZero() {
		resp.LastReload = t.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.status.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "scanner has not started yet")
		return
	}

	resp := statusResponse(snap, s.clock.Now())
	if wantsProtobuf(r) {
		msg, err := statusToProto(resp)
		if err != nil {
			s.logger.Error("status encode error", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.credentials.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_credential", "no credential with id "+id)
		return
	}

	d := s.policy.Decide(&rec, s.clock.Now())
	writeJSON(w, http.StatusOK, credentialResponse(rec, d))
}

func (s *Server) handleAuditDay(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit mirror is not configured")
		return
	}

	day := r.PathValue("day")
	if _, err := time.Parse(types.DateLayout, day); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", "day must be YYYY-MM-DD")
		return
	}

	entries, err := s.audit.ListDay(r.Context(), day)
	if err != nil {
		s.logger.Error("audit list error", "day", day, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if entries == nil {
		entries = []types.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, types.AuditDayResponse{Day: day, Entries: entries})
}
