package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"carechat/internal/api"
	"carechat/internal/relay"
	"carechat/internal/storage"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(hub *relay.Hub, store *storage.BboltStorage, baseURL, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(hub, store, baseURL)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/clients", adminHandler.ClientsHandler)
	mux.HandleFunc("GET /admin/attachments", adminHandler.AttachmentsHandler)

	if addr == "" {
		addr = "localhost:3002"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
