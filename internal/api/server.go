package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradepost/internal/auth"
	"tradepost/internal/feed"
	"tradepost/internal/game"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	PlayerID string
	Email    string
	Token    string
}

// Accounts proxies sign-up and login to the identity provider.
type Accounts interface {
	SignUp(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
}

// CatalogView lists static content for clients.
type CatalogView interface {
	Items() []game.ItemDef
	Blueprints() []game.Blueprint
	Missions() []game.MissionDef
}

type Server struct {
	log      *slog.Logger
	verifier auth.Verifier
	accounts Accounts
	game     *game.Service
	catalog  CatalogView
	feed     *feed.Server
	mux      *chi.Mux
}

type Option func(*Server)

// WithAccounts mounts /v1/auth/signup and /v1/auth/login.
func WithAccounts(a Accounts) Option { return func(s *Server) { s.accounts = a } }

// WithFeed mounts the live event websocket at /v1/feed.
func WithFeed(hub *feed.Hub) Option {
	return func(s *Server) {
		s.feed = feed.NewServer(hub, s.identifyFeed, s.log)
	}
}

func New(logger *slog.Logger, verifier auth.Verifier, gameSvc *game.Service, catalog CatalogView, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:      logger,
		verifier: verifier,
		game:     gameSvc,
		catalog:  catalog,
		mux:      chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	// The feed is long-lived and stays outside the request timeout.
	if s.feed != nil {
		r.Get("/v1/feed", s.feed.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		if s.accounts != nil {
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
		}
		r.Get("/catalog", s.handleCatalog)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me/wallet", s.handleWallet)
			r.Get("/me/inventory", s.handleInventory)
			r.Get("/me/ledger", s.handleLedger)
			r.Post("/transfers", s.handleTransfer)

			r.Get("/listings", s.handleListings)
			r.Post("/listings", s.handleCreateListing)
			r.Get("/listings/{id}", s.handleListing)
			r.Post("/listings/{id}/purchase", s.handlePurchase)
			r.Post("/listings/{id}/cancel", s.handleCancelListing)

			r.Post("/missions", s.handleDispatchMission)
			r.Get("/missions/{id}", s.handleMission)
			r.Post("/missions/{id}/complete", s.handleCompleteMission)

			r.Post("/crafting/jobs", s.handleStartCraft)
			r.Get("/crafting/jobs/{id}", s.handleCraftJob)
			r.Post("/crafting/jobs/{id}/complete", s.handleCompleteCraft)
			r.Post("/crafting/unlocks", s.handleUnlockBlueprint)
			r.Get("/skills/{skill}", s.handleSkill)

			r.Post("/guilds/{guild_id}/contributions", s.handleContribute)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				s.log.Warn("token verification failed", "err", err)
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			PlayerID: user.ID,
			Email:    user.Email,
			Token:    token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identifyFeed accepts the bearer header or, for browsers, ?access_token=.
// Anonymous connections get market-wide events only.
func (s *Server) identifyFeed(r *http.Request) (string, error) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		return "", nil
	}
	user, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func userFromContext(ctx context.Context) (UserContext, error) {
	user, ok := ctx.Value(userContextKey).(UserContext)
	if !ok || user.PlayerID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.accounts.SignUp(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.accounts.Login(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      s.catalog.Items(),
		"blueprints": s.catalog.Blueprints(),
		"missions":   s.catalog.Missions(),
	})
}

// writeDomainError maps game errors to HTTP statuses. Anything that is not
// a domain error is logged and reported without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var short *game.ShortfallError
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     err.Error(),
			"kind":      errorKind(short.Kind),
			"item":      short.Item,
			"required":  short.Required,
			"available": short.Available,
		})
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInsufficientInventory):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, game.ErrListingUnavailable),
		errors.Is(err, game.ErrAlreadyComplete),
		errors.Is(err, game.ErrDuplicateIdempotency):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrNotYetComplete):
		writeError(w, http.StatusTooEarly, err.Error())
	case errors.Is(err, game.ErrTxConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, game.ErrInternal):
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.log.Error("unhandled error", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, game.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, game.ErrInsufficientInventory):
		return "insufficient_inventory"
	default:
		return "unknown"
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// idempotencyKey returns the client's Idempotency-Key, or a fresh one so
// every write is still recorded once.
func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
