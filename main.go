package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"palaver/internal/chat"
	"palaver/internal/config"
	"palaver/internal/content"
	"palaver/internal/identity"
	"palaver/internal/models"
	"palaver/internal/rest"
	"palaver/internal/store"
	"palaver/internal/transport"

	"golang.org/x/sync/errgroup"
)

// sessionSource adapts the transport client to the chat service's
// consumer-side interface.
type sessionSource struct {
	client *transport.Client
}

func (s sessionSource) Await(ctx context.Context) (chat.Session, error) {
	session, err := s.client.Await(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func run(ctx context.Context) error {
	friendID := flag.String("friend", "", "User id to open a private conversation with")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.Default()

	ids := identity.NewService(ctx)
	ids.SetToken(cfg.Token)
	if ids.GetCurrentUserValue() == nil {
		return errors.New("PALAVER_TOKEN is missing or carries no identity")
	}

	var archive *store.Store
	if cfg.StorePath != "" {
		archive, err = store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer func() { _ = archive.Close() }()
	}

	tc := transport.NewClient(transport.Config{
		Dial:              transport.Dialer(cfg.WSURL),
		KeepAliveInterval: cfg.KeepAliveInterval,
		SessionLifetime:   cfg.SessionLifetime,
		ReconnectDelay:    cfg.ReconnectDelay,
		Log:               log,
	})
	tc.Connect()
	defer func() { _ = tc.Close() }()

	svc := chat.NewService(chat.Config{
		Sessions:         sessionSource{client: tc},
		Identity:         ids,
		StreamRetryDelay: cfg.StreamRetryDelay,
		Log:              log,
	})
	defer func() { _ = svc.Close() }()

	api := rest.NewClient(cfg.APIBaseURL, ids)

	svc.InitializeStream()

	g, gCtx := errgroup.WithContext(ctx)

	// Global notification listener: every inbound message, any
	// conversation.
	inbound, cancelInbound := svc.Subscribe()
	defer cancelInbound()
	g.Go(func() error {
		for {
			select {
			case msg := <-inbound:
				printMessage(msg)
				if archive != nil {
					if err := archive.Record(msg); err != nil {
						log.Warn("failed to archive message", "error", err)
					}
				}
			case <-gCtx.Done():
				return nil
			}
		}
	})

	if *friendID != "" {
		g.Go(func() error {
			return chatWith(gCtx, api, svc, archive, *friendID)
		})
	} else {
		summaries, err := api.GetAllConversations(gCtx)
		if err != nil {
			return fmt.Errorf("cannot load conversations: %w", err)
		}
		for _, s := range summaries {
			fmt.Printf("%s\t%s\t(%s)\n", s.ID, s.Title, s.Type)
		}
	}

	g.Go(func() error {
		<-gCtx.Done()
		return nil
	})

	return g.Wait()
}

// chatWith opens the private conversation with friendID and runs the
// send loop on stdin. "/older" pages one more history bucket in.
func chatWith(ctx context.Context, api *rest.Client, svc *chat.Service, archive *store.Store, friendID string) error {
	conv, err := api.GetConversation(ctx, friendID)
	if err != nil {
		return fmt.Errorf("cannot open chat: %w", err)
	}

	if archive != nil {
		if recent, err := archive.Recent(conv.ID, 20); err == nil && len(recent) > 0 {
			fmt.Println("--- archived ---")
			for _, msg := range recent {
				printMessage(msg)
			}
			fmt.Println("----------------")
		}
	}

	for _, msg := range conv.Messages {
		printMessage(msg)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/older":
			if conv.BucketIndex <= 0 {
				fmt.Println("no older messages")
				continue
			}
			bucket, err := api.GetMessages(ctx, conv.ID, conv.BucketIndex-1)
			if err != nil {
				fmt.Printf("cannot load older messages: %v\n", err)
				continue
			}
			conv.MergeBucket(bucket)
			for _, msg := range conv.Messages {
				printMessage(msg)
			}
		case line == "/quit":
			return nil
		default:
			msg, err := svc.SendMessage(conv.ID, line, friendID)
			if err != nil {
				fmt.Printf("cannot send: %v\n", err)
				continue
			}
			if archive != nil {
				_ = archive.Record(msg)
			}
		}
	}
	return scanner.Err()
}

func printMessage(msg models.Message) {
	name := msg.SenderName
	if name == "" {
		name = msg.SenderID
	}
	fmt.Printf("[%s] %s: %s\n", msg.Timestamp, name, content.Sanitize(msg.Content))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
