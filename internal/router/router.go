package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/handler"
	mw "github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/storegate"
	"github.com/comanda-pos/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, log *logrus.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "https://pos.comanda.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Services
	ledger := service.NewLedger(log)
	stats := service.NewClientStats(log)
	newOrderStore := func(db database.DBTX) service.OrderStore { return database.New(db) }
	newTableStore := func(db database.DBTX) service.TableStore { return database.New(db) }
	newStockStore := func(db database.DBTX) service.StockStore { return database.New(db) }

	gate := storegate.NewSettingsGate(queries, cfg.StoreLat, cfg.StoreLng)

	orderService := service.NewOrderService(pool, newOrderStore, ledger, stats, hub, log)
	tableService := service.NewTableService(pool, newTableStore, gate, hub, log)
	stockService := service.NewStockService(pool, newStockStore)

	// Auth (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret, log)
	authHandler.RegisterRoutes(r)

	// Guest digital menu (public, gated by session credentials + store gate)
	digitalHandler := handler.NewDigitalHandler(tableService, queries, log)
	r.Route("/digital", digitalHandler.RegisterRoutes)

	// WebSockets. Staff rooms authenticate with a JWT query param; guest
	// connections resolve their room from the digital session token.
	resolver := ws.SessionResolver(func(ctx context.Context, token string) (int32, error) {
		return tableService.ResolveSessionToken(ctx, queries, token)
	})
	r.Get("/ws/digital", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeDigitalWS(hub, resolver, w, r)
	})
	r.Get("/ws/{channel}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		orderHandler := handler.NewOrderHandler(orderService, queries, log)
		r.Route("/orders", orderHandler.RegisterRoutes)

		tableHandler := handler.NewTableHandler(tableService, queries, log)
		r.Route("/tables", tableHandler.RegisterRoutes)

		productHandler := handler.NewProductHandler(queries, log)
		r.Route("/products", productHandler.RegisterRoutes)

		clientHandler := handler.NewClientHandler(queries, log)
		r.Route("/clients", clientHandler.RegisterRoutes)

		// Back office, kept away from kitchen and waiter roles.
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleAdmin, enum.UserRolePOS))

			inventoryHandler := handler.NewInventoryHandler(stockService, queries, log)
			r.Route("/inventory", inventoryHandler.RegisterRoutes)

			driverHandler := handler.NewDriverHandler(queries, hub, log)
			r.Route("/drivers", driverHandler.RegisterRoutes)

			receivableHandler := handler.NewReceivableHandler(queries, log)
			r.Route("/receivables", receivableHandler.RegisterRoutes)
		})
	})

	return r
}
