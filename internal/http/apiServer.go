package http

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"

	"carechat/internal/api"
	"carechat/internal/filestore"
	"carechat/internal/relay"
	"carechat/internal/storage"

	"github.com/go-chi/cors"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

type APIConfig struct {
	Addr           string
	BaseURL        string
	AllowedOrigins []string
	MaxUploadBytes int64
}

func NewAPIServer(hub *relay.Hub, files filestore.FileStore, store *storage.BboltStorage, cfg APIConfig) *APIServer {
	server := relay.NewServer(hub, cfg.AllowedOrigins)
	apiHandlers := api.New(files, store, cfg.BaseURL, cfg.MaxUploadBytes)

	withCORS := cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-File-Name"},
		MaxAge:         300,
	})

	mux := http.NewServeMux()

	// Attachment endpoints
	mux.Handle("/api/attachments", withCORS(http.HandlerFunc(apiHandlers.UploadAttachmentHandler)))
	mux.Handle("GET /api/attachments/{id}", withCORS(http.HandlerFunc(apiHandlers.GetAttachmentHandler)))
	mux.Handle("OPTIONS /api/attachments/{id}", withCORS(http.NotFoundHandler()))

	// WebSocket endpoint
	mux.HandleFunc("/ws", server.HandleConnections)

	addr := cfg.Addr
	if addr == "" {
		addr = ":3001"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *APIServer) Serve(ln net.Listener) error {
	log.Printf("Relay started on %s", ln.Addr())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
