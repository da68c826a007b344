package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"github.com/gregjohnson/lektrico-bridge/internal/metrics"
	"github.com/gregjohnson/lektrico-bridge/internal/property"
	"github.com/gregjohnson/lektrico-bridge/internal/reconcile"
	"github.com/gregjohnson/lektrico-bridge/internal/storage"
)

// PropertyStore is the published property set as the API sees it
type PropertyStore interface {
	Entries() []property.Entry
	Entry(name string) (property.Entry, bool)
	Write(ctx context.Context, name string, value float64) (bool, error)
	Subscribe(o property.Observer) func()
}

// Journal is the event and command history
type Journal interface {
	LogEvent(source storage.EventSource, eventType storage.EventType, message string, details interface{}) error
	GetEventLogs(filter storage.EventLogFilter) ([]storage.EventLog, error)
	GetCommands(filter storage.CommandFilter) ([]storage.CommandRecord, error)
}

// ServiceInterface defines the interface for the main service
type ServiceInterface interface {
	GetStore() PropertyStore
	GetJournal() Journal
	GetReconcilerStatus() reconcile.Status
	MQTTConnected() bool
	InfluxConnected() bool
}

// Server is the HTTP server
type Server struct {
	port    int
	service ServiceInterface
	router  *mux.Router
	hub     *Hub
	logger  *log.Logger
}

// NewServer creates a new HTTP server
func NewServer(port int, service ServiceInterface) *Server {
	s := &Server{
		port:    port,
		service: service,
		router:  mux.NewRouter(),
		logger:  log.Component("web"),
	}
	s.hub = NewHub(s.logger)

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/properties", s.handleGetProperties).Methods("GET")
	api.HandleFunc("/properties/{name:.+}", s.handleGetProperty).Methods("GET")
	api.HandleFunc("/properties/{name:.+}", s.handleWriteProperty).Methods("PUT")
	api.HandleFunc("/logs", s.handleGetLogs).Methods("GET")
	api.HandleFunc("/commands", s.handleGetCommands).Methods("GET")
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)

	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// start runs the websocket hub and forwards property changes to it
func (s *Server) start(ctx context.Context) {
	go s.hub.Run(ctx)

	unsubscribe := s.service.GetStore().Subscribe(func(c property.Change) {
		s.hub.Broadcast(Message{Type: MessageProperty, Data: changeView(c)})
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// Run starts the HTTP server
func (s *Server) Run(ctx context.Context) error {
	s.start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown handler
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Web server listening on port %d", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// GetHub returns the WebSocket hub
func (s *Server) GetHub() *Hub {
	return s.hub
}
