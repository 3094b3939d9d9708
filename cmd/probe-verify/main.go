package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ismaiel54/stateful-consumer-probe/internal/logging"
	"github.com/ismaiel54/stateful-consumer-probe/internal/roundtrip"
	"go.uber.org/zap"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8070", "Probe server base URL")
		attempts = flag.Int("attempts", 10, "Maximum polls of /consume-persistent")
		interval = flag.Duration("interval", 2*time.Second, "Delay between polls")
		timeout  = flag.Duration("timeout", 2*time.Minute, "Overall deadline")
		logLevel = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logger, err := logging.NewLogger("probe-verify", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting round-trip verification",
		zap.String("url", *baseURL),
		zap.Int("attempts", *attempts),
		zap.Duration("interval", *interval),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner := roundtrip.NewRunner(roundtrip.Options{
		BaseURL:  *baseURL,
		Attempts: *attempts,
		Interval: *interval,
	}, logger)

	res, err := runner.Run(ctx)
	if err != nil {
		logger.Error("round trip failed", zap.Error(err))
		fmt.Printf("\n❌ VERIFICATION FAILED: %v\n", err)
		os.Exit(1)
	}

	// Print results
	fmt.Println("\n=== Verification Results ===")
	fmt.Printf("Marker: %s\n", res.Marker)
	fmt.Printf("Found: %t after %d poll(s)\n", res.Found, res.Attempts)
	fmt.Printf("Payload unchanged: %t\n", res.PayloadUnchanged)
	fmt.Printf("Object ID: %s -> %s (stable: %t)\n", res.ObjectIDBefore, res.ObjectIDAfter, res.ObjectIDStable)
	fmt.Printf("Instance ID: %s -> %s (stable: %t)\n", res.InstanceIDBefore, res.InstanceIDAfter, res.InstanceIDStable)

	if !res.Passed() {
		fmt.Println("\n❌ VERIFICATION FAILED: consumer state was not preserved!")
		os.Exit(1)
	}

	fmt.Println("\n✅ VERIFICATION PASSED: consumer state preserved across requests!")
	os.Exit(0)
}
