// Package controlapi is the local HTTP surface for the CRUD/status RPCs
// that the configuration/BLE handler would otherwise call directly on
// ConfigStore and PollingEngine. BLE transport itself is out of scope; this
// gives the same RPC set a concrete, testable binding over chi.
package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/platform"
	"github.com/fieldgate/gateway/internal/polling"
	"github.com/fieldgate/gateway/internal/publish"
)

// Server wires ConfigStore, PollingEngine, and Publisher behind chi routes.
type Server struct {
	store     *config.Store
	engine    *polling.Engine
	publisher *publish.Publisher

	clock platform.Clock
	net   platform.Net

	router chi.Router
}

func New(store *config.Store, engine *polling.Engine, publisher *publish.Publisher) *Server {
	s := &Server{
		store:     store,
		engine:    engine,
		publisher: publisher,
		clock:     platform.NewSystemClock(),
		net:       platform.NewSystemNet(),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDeviceStatus)
		r.Post("/", s.handleCreateDevice)
		r.Route("/{deviceID}", func(r chi.Router) {
			r.Put("/", s.handleUpdateDevice)
			r.Delete("/", s.handleDeleteDevice)
			r.Get("/status", s.handleGetDeviceStatus)
			r.Post("/enable", s.handleEnableDevice)
			r.Post("/disable", s.handleDisableDevice)
			r.Route("/registers", func(r chi.Router) {
				r.Post("/", s.handleCreateRegister)
				r.Route("/{registerID}", func(r chi.Router) {
					r.Put("/", s.handleUpdateRegister)
					r.Delete("/", s.handleDeleteRegister)
				})
			})
		})
	})

	r.Put("/server-config", s.handleUpdateServerConfig)
	r.Put("/logging-config", s.handleUpdateLoggingConfig)

	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	comm := s.store.Snapshot().Docs.Server.Communication
	iface := ""
	if comm == config.CommEthernet {
		iface = "eth0"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"time":    s.clock.NowWall().UTC(),
		"network": map[string]any{"interface": iface, "online": s.net.IsOnline(iface)},
	})
}
