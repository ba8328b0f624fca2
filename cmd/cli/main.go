package main

import (
	"context"
	"fmt"
	"os"

	"github.com/marcelsud/webhook-outbox/delivery"
	deliverymemory "github.com/marcelsud/webhook-outbox/delivery/memory"
	"github.com/marcelsud/webhook-outbox/event"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/subscription"
	subscriptionmemory "github.com/marcelsud/webhook-outbox/subscription/memory"
	"github.com/rs/zerolog"
)

/* cli - registra um webhook e dispara um test_event contra ele
 * Usage: go run cmd/cli/main.go <url> [event_type ...]
 */

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <url> [event_type ...]\n", os.Args[0])
		os.Exit(1)
	}

	ctx := context.Background()
	repo := subscriptionmemory.NewRepository()
	defer repo.Close(ctx)

	s := subscription.NewService(repo)
	sub, err := s.Create(ctx, subscription.Spec{
		URL:    os.Args[1],
		Events: os.Args[2:],
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("registered webhook %s -> %s\n", sub.ID, sub.URL)

	evt, err := event.New(event.TypeTest, map[string]any{"source": "cli"})
	if err != nil {
		fmt.Println(err)
		return
	}

	log := deliverymemory.NewLog()
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	engine := delivery.NewEngine(s, log, logger, metrics.NewDeliveryStats())
	engine.Deliver(ctx, sub, evt)

	entries, err := log.List(ctx, sub.ID, delivery.Filter{})
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, entry := range entries {
		fmt.Printf("attempt %d: %s (http %d) %s\n",
			entry.AttemptNumber, entry.Status, entry.HTTPStatusCode, entry.ErrorMessage)
	}
}
