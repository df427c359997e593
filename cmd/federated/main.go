// Federated is the federation daemon: it registers the configured stores,
// indexes and scans the platform root, runs the monitor loop and serves the
// control API.
//
// Usage:
//
//	# Start with defaults (./data, 127.0.0.1:8989)
//	federated
//
//	# Start with a config file and an override
//	FEDERATED_SERVER_PORT=9000 federated -config federated.yaml
//
//	federated version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("FEDERATED_CONFIG"), "path to a YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  federated [-config file]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  federated version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("federated: %v", err)
	}
}

func printVersion() {
	fmt.Printf("federated by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}
