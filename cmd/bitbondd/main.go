// Command bitbondd is the bond service daemon. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and starts the
// application in the configured mode. With -sign it instead signs a single
// API call with the operator key and prints the auth headers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bitbondlabs/bitbondd/internal/app"
	"github.com/bitbondlabs/bitbondd/internal/config"
	"github.com/bitbondlabs/bitbondd/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	signMode := flag.Bool("sign", false, "sign an API call with the operator key and exit")
	signMethod := flag.String("method", http.MethodPost, "HTTP method to sign (with -sign)")
	signPath := flag.String("path", "", "request path to sign (with -sign)")
	signBody := flag.String("body", "", "JSON request body to sign (with -sign)")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *signMode {
		if err := runSign(cfg, *signMethod, *signPath, *signBody); err != nil {
			fmt.Fprintf(os.Stderr, "sign: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Re-create the logger at the configured level.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("bond service starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("bond service stopped")
}

// runSign signs a mutating API call with the configured operator key and
// prints the headers to attach to the request, so operators can drive the
// API from curl without a wallet client.
func runSign(cfg *config.Config, method, path, body string) error {
	if path == "" {
		return errors.New("-path is required")
	}
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		return err
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return err
	}

	sig, ts, err := signCallHeaders(signer, method, path, []byte(body), time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("caller: %s\n", signer.Principal())
	fmt.Printf("X-Timestamp: %s\n", ts)
	fmt.Printf("X-Signature: %s\n", sig)
	return nil
}

// signCallHeaders signs the canonical call digest at the given instant and
// returns the header values a client attaches to the request.
func signCallHeaders(signer *crypto.Signer, method, path string, body []byte, at time.Time) (sig, ts string, err error) {
	timestamp := at.Unix()
	sig, err = signer.SignCall(method, path, body, timestamp)
	if err != nil {
		return "", "", err
	}
	return sig, strconv.FormatInt(timestamp, 10), nil
}
