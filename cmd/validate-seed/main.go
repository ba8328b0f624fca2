package main

import (
	"context"
	"fmt"
	"os"

	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/subscription/memory"
)

/* validate-seed - Standalone CLI tool to validate subscriptions.yaml
 * Usage: go run cmd/validate-seed/main.go [subscriptions.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	seedFile := "subscriptions.yaml"
	if len(os.Args) > 1 {
		seedFile = os.Args[1]
	}

	fmt.Printf("Validating seed file: %s\n\n", seedFile)

	// Seeding into a throwaway in-memory store runs every entry through
	// the same validation the API server applies at boot
	ctx := context.Background()
	repo := memory.NewRepository()
	defer repo.Close(ctx)

	s := subscription.NewService(repo)
	count, err := subscription.SeedFromFile(ctx, seedFile, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	subs, err := s.List(ctx, subscription.Filter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d subscription(s):\n", count)

	for i, sub := range subs {
		fmt.Printf("\n%d. URL: %s\n", i+1, sub.URL)
		if len(sub.Events) == 0 {
			fmt.Printf("   Events:      (all)\n")
		} else {
			fmt.Printf("   Events:      %v\n", sub.Events)
		}
		fmt.Printf("   Signed:      %t\n", sub.Secret != "")
		fmt.Printf("   Max Retries: %d\n", sub.RetryPolicy.MaxRetries)
		fmt.Printf("   Retry Delay: %ds\n", sub.RetryPolicy.RetryDelaySeconds)
		fmt.Printf("   Timeout:     %ds\n", sub.RetryPolicy.TimeoutSeconds)
	}

	fmt.Printf("\n✓ All subscriptions are valid!\n")
	os.Exit(0)
}
