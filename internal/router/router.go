package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/order-core/internal/config"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/enum"
	"github.com/kiwari-pos/order-core/internal/feed"
	"github.com/kiwari-pos/order-core/internal/handler"
	"github.com/kiwari-pos/order-core/internal/kitchen"
	mw "github.com/kiwari-pos/order-core/internal/middleware"
	"github.com/kiwari-pos/order-core/internal/report"
	"github.com/kiwari-pos/order-core/internal/service"
	"github.com/kiwari-pos/order-core/internal/ws"
)

// Deps are the long-lived components shared by the routes.
type Deps struct {
	Queries    *database.Queries
	Pool       *pgxpool.Pool
	Hub        *ws.Hub
	Board      *kitchen.Board
	Dispatcher *feed.Dispatcher
	Sessions   *handler.CartSessions
	Logger     *slog.Logger
}

var (
	frontOfHouse = []string{enum.UserRoleOwner, enum.UserRoleManager, enum.UserRoleCashier}
	kitchenRoles = []string{enum.UserRoleOwner, enum.UserRoleManager, enum.UserRoleKitchen}
	managers     = []string{enum.UserRoleOwner, enum.UserRoleManager}
)

// New creates a Chi router with all application routes wired up.
// Applies authentication, outlet scoping, and role-based middleware as needed.
func New(cfg *config.Config, deps Deps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/outlets/{oid}/kitchen", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(deps.Hub, cfg.JWTSecret, kitchenRoles, deps.Dispatcher.Snapshot, w, r)
	})

	orderService := service.NewOrderService(
		deps.Pool,
		func(db database.DBTX) service.OrderStore {
			return database.New(db)
		},
		service.WithOrderNumberPrefix(cfg.OrderNumberPrefix),
		service.WithLogger(logger),
	)
	cartHandler := handler.NewCartHandler(orderService, deps.Sessions, cfg.VATRate)
	orderHandler := handler.NewOrderHandler(deps.Queries)
	kitchenHandler := handler.NewKitchenHandler(
		service.NewKitchenService(deps.Queries),
		deps.Board,
		deps.Dispatcher,
	)
	reportsHandler := handler.NewReportsHandler(
		report.NewRevenueService(deps.Queries, cfg.ZeroBasePolicy),
		cfg.ZeroBasePolicy,
	)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Outlet-scoped routes
		r.Route("/outlets/{oid}", func(r chi.Router) {
			r.Use(mw.RequireOutlet)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(frontOfHouse...))
				r.Route("/carts", cartHandler.RegisterRoutes)
				r.Route("/orders", orderHandler.RegisterRoutes)
			})

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(kitchenRoles...))
				r.Route("/kitchen", kitchenHandler.RegisterRoutes)
			})

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(managers...))
				r.Route("/reports", reportsHandler.RegisterRoutes)
			})
		})
	})

	logger.Debug("router initialized")
	return r
}
