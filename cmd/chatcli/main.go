package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"carechat/internal/chat"
	"carechat/internal/commands"
	"carechat/internal/config"
	"carechat/internal/models"
	"carechat/internal/notify"
)

func run(ctx context.Context) error {
	role := flag.String("as", "", "Chat as user or pharmacist (overrides CHAT_ROLE)")
	userID := flag.String("user", "", "Client id sent to the relay (overrides CHAT_USER_ID)")
	verbose := flag.Bool("v", false, "Log connection details")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if *role != "" {
		cfg.Role = models.Sender(*role)
	}
	if *userID != "" {
		cfg.UserID = *userID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := commands.SessionOptions(cfg)
	opts.Uploader = chat.NewHTTPUploader(cfg.APIBaseURL())
	opts.Toaster = notify.NewWriterToaster(os.Stdout)
	if cfg.PushEnabled() {
		desktop, err := notify.NewWebPush(notify.WebPushConfig{
			Subscriber:      cfg.VAPIDSubscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		}, notify.FileSubscription(cfg.PushSubscription))
		if err != nil {
			return err
		}
		opts.Desktop = desktop
	}

	session := chat.New(chat.NewWebsocketDialer(cfg.RelayURL), opts)
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	fmt.Printf("carechat as %s (%s), /help for commands\n", cfg.Role, session.ClientID())
	c := newConsole(session, os.Stdout)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-session.Updates():
			if !ok {
				return nil
			}
			c.render(session.Snapshot())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
