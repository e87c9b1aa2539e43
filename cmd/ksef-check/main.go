package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/ksef"
	"github.com/fakturo/invoice-pipeline/internal/nip"
)

func main() {
	// Parse command line flags
	baseURL := flag.String("url", "https://ksef-test.mf.gov.pl/api", "Gateway base URL")
	authToken := flag.String("token", "", "Authorisation token (or set KSEF_AUTH_TOKEN env var)")
	contextNIP := flag.String("nip", "", "Context tax identifier the session is opened for")
	timeout := flag.Duration("timeout", 30*time.Second, "API call timeout")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	// Initialize logger
	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Get token from flag or environment
	if *authToken == "" {
		*authToken = os.Getenv("KSEF_AUTH_TOKEN")
	}
	if *authToken == "" {
		fmt.Fprintf(os.Stderr, "ERROR: KSEF_AUTH_TOKEN not set and no --token flag provided\n")
		fmt.Fprintf(os.Stderr, "Usage: ksef-check --token <token> --nip 5260250274 [--url <base>]\n")
		os.Exit(1)
	}

	normalized, ok := nip.Normalize(*contextNIP)
	if !ok || !nip.Valid(normalized) {
		fmt.Fprintf(os.Stderr, "ERROR: --nip must be a valid 10-digit tax identifier\n")
		os.Exit(1)
	}

	fmt.Println("=== Gateway Session Test ===")
	fmt.Println("Configuration:")
	fmt.Printf("  Base URL:     %s\n", *baseURL)
	fmt.Printf("  Context NIP:  %s\n", normalized)
	fmt.Printf("  Token length: %d chars\n", len(*authToken))
	fmt.Printf("  Timeout:      %v\n", *timeout)
	fmt.Println()

	client := ksef.NewClient(ksef.Config{
		BaseURL:    *baseURL,
		AuthToken:  *authToken,
		ContextNIP: normalized,
		Timeout:    *timeout,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		if errors.Is(err, ksef.ErrAuth) {
			fmt.Fprintf(os.Stderr, "✗ Gateway rejected the credentials: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "✗ Session could not be opened: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("✓ Session opened in %v\n", time.Since(start).Round(time.Millisecond))
}
