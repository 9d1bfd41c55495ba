package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/absensi-app/apiserver/config"
	"github.com/absensi-app/apiserver/internal/db"
	"github.com/absensi-app/apiserver/internal/handlers"
	"github.com/absensi-app/apiserver/internal/mq"
	"github.com/absensi-app/apiserver/internal/services"
	"github.com/absensi-app/apiserver/internal/storage"
	"github.com/absensi-app/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

const apiPrefix = "/api/v1"

// Deps are the services the HTTP surface is built from.
type Deps struct {
	Config     config.Config
	Users      *services.UserService
	Attendance *services.AttendanceService
	Events     *services.EventService
	Logger     *slog.Logger
}

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	storage    *storage.Storage
	bus        *mq.MQ
	logger     *slog.Logger
}

// New opens the database, object storage and broker, wires the services and
// builds the router. Everything opened here is released by Shutdown.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(cfg.Database); err != nil {
			return nil, err
		}
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	photos, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	bus, err := mq.Connect(ctx, cfg.MQ)
	if err != nil {
		_ = photos.Close()
		_ = dbConn.Close()
		return nil, err
	}

	// A nil *mq.MQ must not become a non-nil interface.
	var publisher services.EventPublisher
	if bus != nil {
		publisher = bus
	}

	userRepo := store.NewUserRepository(dbConn)
	eventRepo := store.NewEventRepository(dbConn)

	deps := Deps{
		Config: cfg,
		Users:  services.NewUserService(userRepo),
		Attendance: services.NewAttendanceService(services.AttendanceDeps{
			Attendances:  store.NewAttendanceRepository(dbConn),
			QRCodes:      store.NewQRCodeRepository(dbConn),
			Users:        userRepo,
			Photos:       photos,
			Events:       publisher,
			EventChannel: cfg.MQ.AttendanceChannel,
			Logger:       logger,
		}),
		Events: services.NewEventService(eventRepo, logger),
		Logger: logger,
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		storage:    photos,
		bus:        bus,
		logger:     logger,
	}, nil
}

// NewRouter builds the HTTP handler for the given services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authMiddleware := handlers.RequireAuth(deps.Config.Auth)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(logger),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route(apiPrefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, deps.Users, deps.Config.Auth, logger)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, deps.Users, authMiddleware, logger)
		})
		r.Route("/attendance", func(r chi.Router) {
			handlers.AttendanceRouter(r, deps.Attendance, deps.Events, deps.Users, authMiddleware, deps.Config.VerifyRedirectURL, logger)
		})
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: deps.Config.CORSAllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return corsHandler.Handler(router)
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the broker, storage and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.bus != nil {
		err = errors.Join(err, s.bus.Close())
	}
	if s.storage != nil {
		err = errors.Join(err, s.storage.Close())
	}
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}
