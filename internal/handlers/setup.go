package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"serverlist-backend/internal/jwt"
	"serverlist-backend/internal/models"
	"serverlist-backend/internal/search"
	"serverlist-backend/internal/servers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Servers interface {
	List(ctx context.Context, query servers.ListQuery, userID *int64) (*servers.ListResult, error)
	Detail(ctx context.Context, id int64, userID *int64, requireLogin bool) (*models.ServerDetail, error)
	Update(ctx context.Context, id int64, req servers.UpdateRequest, userID int64) (*models.ServerDetail, error)
	Gallery(ctx context.Context, id int64) (*models.ServerGallery, error)
	AddGalleryImage(ctx context.Context, id int64, req servers.GalleryImageRequest, userID int64) error
	DeleteGalleryImage(ctx context.Context, id int64, imageID int64, userID int64) error
	Managers(ctx context.Context, id int64) (*models.ServerManagersResponse, error)
	TotalPlayers(ctx context.Context) (*models.ServerTotalPlayers, error)
}

type Users interface {
	UserByLogin(ctx context.Context, login string, isEmail bool) (*models.User, error)
	UserExists(ctx context.Context, username string, email string) (bool, error)
	CreateUser(ctx context.Context, user models.User) error
	UpdateLastLogin(ctx context.Context, userID int64, at int64, ip string) error
}

type VerificationCodes interface {
	SendVerificationCode(ctx context.Context, to string) error
	VerifyCode(ctx context.Context, email string, code string) (bool, error)
}

type Searcher interface {
	Search(ctx context.Context, params search.Params) (*search.Response, error)
	Stats(ctx context.Context) (*search.IndexStats, error)
}

type IDGenerator interface {
	Generate() (int64, error)
}

type Dependencies struct {
	Sugar    *zap.SugaredLogger
	Tokens   *jwt.Service
	Servers  Servers
	Users    Users
	Codes    VerificationCodes
	Search   Searcher
	IDs      IDGenerator
	Validate *validator.Validate
}

type Handler struct {
	sugar    *zap.SugaredLogger
	tokens   *jwt.Service
	servers  Servers
	users    Users
	codes    VerificationCodes
	search   Searcher
	ids      IDGenerator
	validate *validator.Validate

	bcryptCost int
}

func New(deps Dependencies) *Handler {
	return &Handler{
		sugar:      deps.Sugar,
		tokens:     deps.Tokens,
		servers:    deps.Servers,
		users:      deps.Users,
		codes:      deps.Codes,
		search:     deps.Search,
		ids:        deps.IDs,
		validate:   deps.Validate,
		bcryptCost: 12,
	}
}

func (h *Handler) Router(cfg *models.ConfigFile) http.Handler {
	r := chi.NewRouter()

	if cfg.Cors {
		r.Use(AllowCors)
	}
	if cfg.PrintHttpRequests {
		r.Use(middleware.Logger)
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", Health)

	r.Route("/v2", func(v2 chi.Router) {
		v2.Use(h.OptionalAuth)

		v2.Route("/servers", func(r chi.Router) {
			r.Get("/", h.ListServers)
			r.Get("/players", h.TotalPlayers)
			r.Get("/{id}", h.GetServer)
			r.With(h.RequireAuth).Put("/{id}", h.UpdateServer)
			r.Get("/{id}/managers", h.GetManagers)
			r.Get("/{id}/gallery", h.GetGallery)
			r.With(h.RequireAuth).Post("/{id}/gallery", h.UploadGalleryImage)
			r.With(h.RequireAuth).Delete("/{id}/gallery/{imageID}", h.DeleteGalleryImage)
		})

		v2.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.With(h.RequireAuth).Post("/logout", h.Logout)
			r.Post("/register/email-code", h.RegisterEmailCode)
			r.Post("/register", h.Register)
			r.With(h.RequireAuth).Post("/sessions/audit", h.AuditSessions)
		})

		v2.Get("/search", h.Search)
		v2.Get("/search/stats", h.SearchStats)
	})

	// stored paths that aren't full urls are served from here
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir("./public"))))

	return r
}

func Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("OK"))
}

// Serve blocks until ctx is done or the listener fails. TLS is used when both
// a certificate and a key are configured.
func Serve(ctx context.Context, cfg *models.ConfigFile, handler http.Handler, sugar *zap.SugaredLogger) error {
	address := fmt.Sprintf("%s:%s", cfg.Address, cfg.Port)
	server := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			sugar.Error(err)
		}
	}()

	var err error
	if cfg.TlsCert != "" && cfg.TlsKey != "" {
		sugar.Infof("Listening on https://%s", address)
		err = server.ListenAndServeTLS(cfg.TlsCert, cfg.TlsKey)
	} else {
		sugar.Infof("Listening on http://%s", address)
		err = server.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
