package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/nip"
	"github.com/fakturo/invoice-pipeline/internal/registry"
)

func main() {
	// Parse command line flags
	baseURL := flag.String("url", "https://wl-api.mf.gov.pl", "White list registry base URL")
	taxID := flag.String("nip", "", "Tax identifier to look up")
	timeout := flag.Duration("timeout", 15*time.Second, "API call timeout")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	if *taxID == "" {
		fmt.Fprintf(os.Stderr, "Usage: registry-check --nip 5260250274 [--url <base>] [--timeout 15s]\n")
		os.Exit(1)
	}

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

	fmt.Println("=== Business Registry Lookup ===")

	normalized, ok := nip.Normalize(*taxID)
	if !ok {
		fmt.Fprintf(os.Stderr, "ERROR: %q is not a 10-digit tax identifier\n", *taxID)
		os.Exit(1)
	}
	if !nip.Valid(normalized) {
		fmt.Fprintf(os.Stderr, "ERROR: %s fails the checksum; the registry would never know it\n", normalized)
		os.Exit(1)
	}
	fmt.Printf("✓ Checksum valid: %s\n", normalized)

	client := registry.NewClient(*baseURL, *timeout, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	entry, err := client.Lookup(ctx, normalized)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Lookup failed: %v\n", err)
		os.Exit(1)
	}

	if entry == nil {
		fmt.Printf("✗ %s is not registered\n", normalized)
		os.Exit(0)
	}

	fmt.Println("✓ Registered taxpayer")
	fmt.Printf("  Name:       %s\n", entry.Name)
	fmt.Printf("  Address:    %s\n", entry.Address)
	fmt.Printf("  REGON:      %s\n", entry.REGON)
	fmt.Printf("  KRS:        %s\n", entry.KRS)
	fmt.Printf("  VAT active: %v\n", entry.Active)
	if parts := registry.ParseAddress(entry.Address); parts.PostalCode != "" {
		fmt.Printf("  Parsed:     street=%q postal=%q city=%q\n",
			parts.Street, parts.PostalCode, parts.City)
	}
}
