package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carechat/internal/commands"
	"carechat/internal/config"
	"carechat/internal/filestore"
	"carechat/internal/http"
	"carechat/internal/models"
	"carechat/internal/relay"
	"carechat/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("carechat", flag.ContinueOnError)
	send := fs.String("send", "", "Send one message to the relay and exit")
	as := fs.String("as", "", "Sender for -send: user or pharmacist")
	timeout := fs.Duration("timeout", 10*time.Second, "How long -send waits for the relay")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	if *send != "" {
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}
		if *as != "" {
			cfg.Role = models.Sender(*as)
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		return commands.Send(ctx, cfg, *send, os.Stdout, *timeout)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	fileStore, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	hub := relay.NewHub()

	adminServer := http.NewAdminServer(hub, bbStorage, cfg.BaseURL, cfg.AdminAddr)
	apiServer := http.NewAPIServer(hub, fileStore, bbStorage, http.APIConfig{
		Addr:           cfg.RelayAddr,
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(adminServer.Start)

	// Start Relay
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		// Websocket connections are hijacked, so the HTTP shutdown does not see them.
		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Relay shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
