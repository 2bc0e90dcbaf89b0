package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"serverguard/internal/auth"
	"serverguard/internal/status"
	"serverguard/internal/storage"
	"serverguard/internal/verify"
)

// RoleGranter assigns a role on the platform, used to hand out the
// verified role after a successful redemption.
type RoleGranter interface {
	AddRole(guildID, userID, roleID string) error
}

// Server is the companion web backend: guild configuration and status
// CRUD for the website, the authenticated sweep trigger for the
// external scheduler, and the login flow.
type Server struct {
	store        *storage.Store
	statuses     *status.Service
	verifier     *verify.Service
	issuer       *auth.Issuer
	login        *LoginFlow
	roles        RoleGranter
	defaults     storage.GuildConfig
	sharedSecret string
	logger       *zap.Logger
}

// SetRoleGranter wires the optional platform client that grants the
// verified role.
func (s *Server) SetRoleGranter(granter RoleGranter) {
	s.roles = granter
}

func NewServer(
	store *storage.Store,
	statuses *status.Service,
	verifier *verify.Service,
	issuer *auth.Issuer,
	login *LoginFlow,
	defaults storage.GuildConfig,
	sharedSecret string,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:        store,
		statuses:     statuses,
		verifier:     verifier,
		issuer:       issuer,
		login:        login,
		defaults:     defaults,
		sharedSecret: sharedSecret,
		logger:       logger,
	}
}

// Handler assembles the route table. Everything under /guilds and the
// sweep trigger requires the shared secret; /auth endpoints are public
// entry points to the token flow.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /auth/url", s.handleAuthURL)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	guarded := http.NewServeMux()
	guarded.HandleFunc("GET /guilds/{guild}/config", s.handleGetConfig)
	guarded.HandleFunc("PATCH /guilds/{guild}/config", s.handlePatchConfig)
	guarded.HandleFunc("POST /guilds/{guild}/users/{user}/status/{type}", s.handleCreateStatus)
	guarded.HandleFunc("GET /guilds/{guild}/users/{user}/status/{type}", s.handleListStatuses)
	guarded.HandleFunc("DELETE /guilds/{guild}/users/{user}/status/{type}", s.handleDeleteAllStatuses)
	guarded.HandleFunc("GET /guilds/{guild}/users/{user}/status/{type}/{id}", s.handleGetStatus)
	guarded.HandleFunc("DELETE /guilds/{guild}/users/{user}/status/{type}/{id}", s.handleDeleteStatus)
	guarded.HandleFunc("POST /guilds/{guild}/users/{user}/verify", s.handleIssueVerification)
	guarded.HandleFunc("POST /guilds/{guild}/users/{user}/verify/redeem", s.handleRedeemVerification)
	guarded.HandleFunc("POST /guilds/{guild}/users/{user}/verify/links", s.handleScoreLinks)
	guarded.HandleFunc("GET /guilds/{guild}/users/{user}/xp", s.handleGetXP)
	guarded.HandleFunc("POST /sweep", s.handleSweep)
	mux.Handle("/", auth.SharedSecretMiddleware(s.sharedSecret, guarded))

	return mux
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GuildConfig(r.Context(), r.PathValue("guild"), s.defaults)
	if err != nil {
		s.internalError(w, "read guild config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePatchConfig merges the submitted fields over the current
// config by round-tripping through JSON, so partial updates leave the
// rest untouched.
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guild")
	current, err := s.store.GuildConfig(r.Context(), guildID, s.defaults)
	if err != nil {
		s.internalError(w, "read guild config", err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&current); err != nil {
		http.Error(w, "malformed config patch", http.StatusBadRequest)
		return
	}
	current.GuildID = guildID
	if err := s.store.SaveGuildConfig(r.Context(), current); err != nil {
		s.internalError(w, "save guild config", err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

type statusPayload struct {
	Reason      string     `json:"reason"`
	IssuerID    string     `json:"issuer_id"`
	Description string     `json:"description"`
	ChannelID   string     `json:"channel_id"`
	EndsAt      *time.Time `json:"ends_at"`
}

func (s *Server) handleCreateStatus(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")
	switch recordType {
	case storage.StatusWarning, storage.StatusMute, storage.StatusBan, storage.StatusReminder:
	default:
		http.Error(w, "unknown status type", http.StatusBadRequest)
		return
	}

	var payload statusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed status payload", http.StatusBadRequest)
		return
	}

	record, err := s.statuses.Create(r.Context(), storage.StatusRecord{
		GuildID:     r.PathValue("guild"),
		UserID:      r.PathValue("user"),
		Type:        recordType,
		Reason:      payload.Reason,
		IssuerID:    payload.IssuerID,
		Description: payload.Description,
		ChannelID:   payload.ChannelID,
		EndsAt:      payload.EndsAt,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			http.Error(w, "an active "+recordType+" already exists", http.StatusConflict)
			return
		}
		s.internalError(w, "create status", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	records, err := s.statuses.List(r.Context(), r.PathValue("guild"), r.PathValue("user"), r.PathValue("type"))
	if err != nil {
		s.internalError(w, "list statuses", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := s.recordID(r)
	record, err := s.statuses.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "status not found", http.StatusNotFound)
			return
		}
		s.internalError(w, "get status", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.statuses.Delete(r.Context(), s.recordID(r)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "status not found", http.StatusNotFound)
			return
		}
		s.internalError(w, "delete status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllStatuses(w http.ResponseWriter, r *http.Request) {
	err := s.statuses.DeleteAll(r.Context(), r.PathValue("guild"), r.PathValue("user"), r.PathValue("type"))
	if err != nil {
		s.internalError(w, "delete statuses", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recordID(r *http.Request) string {
	return storage.StatusID(r.PathValue("guild"), r.PathValue("user"), r.PathValue("type"), r.PathValue("id"))
}

func (s *Server) handleIssueVerification(w http.ResponseWriter, r *http.Request) {
	code, err := s.verifier.IssueCode(r.Context(), r.PathValue("guild"), r.PathValue("user"))
	if err != nil {
		s.internalError(w, "issue verification code", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

func (s *Server) handleRedeemVerification(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	guildID, userID := r.PathValue("guild"), r.PathValue("user")
	if err := s.verifier.Redeem(r.Context(), guildID, userID, payload.Code); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	// Grant the verified role best-effort; the redemption stands even
	// when the platform call fails.
	if s.roles != nil {
		if cfg, err := s.store.GuildConfig(r.Context(), guildID, s.defaults); err == nil && cfg.VerifiedRoleID != "" {
			if err := s.roles.AddRole(guildID, userID, cfg.VerifiedRoleID); err != nil {
				s.logger.Warn("verified role grant failed",
					zap.String("guild", guildID), zap.String("user", userID), zap.Error(err))
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScoreLinks(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Links []string `json:"links"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.verifier.ScoreLinks(r.Context(), payload.Links, time.Now()))
}

func (s *Server) handleGetXP(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.XPProfile(r.Context(), r.PathValue("guild"), r.PathValue("user"))
	if err != nil {
		s.internalError(w, "read xp", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleSweep is the scheduler entry point, cadence once per minute.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	processed, err := s.statuses.SweepExpired(r.Context(), time.Now())
	if err != nil {
		s.internalError(w, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.login.AuthURL(r.Context())
	if err != nil {
		s.internalError(w, "auth url", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	userID, err := s.login.Complete(r.Context(), payload.Code, payload.State)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	pair, err := s.issuer.Issue(userID)
	if err != nil {
		s.internalError(w, "issue tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	pair, err := s.issuer.Refresh(payload.RefreshToken)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	s.logger.Error(action, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(value)
}

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("api listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
