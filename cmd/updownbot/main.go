// Command updownbot is the entry point for the up/down window trading bot.
// It loads configuration, wires dependencies, sets up signal handling, and
// runs the trading loops until interrupted.
//
// A second form, "updownbot encrypt-key -out <path>", encrypts a private key
// read from stdin for use with wallet.encrypted_key_path.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gabagool/updownbot/internal/app"
	"github.com/gabagool/updownbot/internal/config"
	"github.com/gabagool/updownbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-key" {
		if err := encryptKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Bootstrap logger; replaced once the configured level is known.
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

	logger.Info("updownbot starting",
		slog.String("asset_class", cfg.Trading.AssetClass),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if err == context.Canceled {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("updownbot stopped")
}

// encryptKey reads a hex private key from stdin and a password from the
// GABAGOOL_WALLET_KEY_PASSWORD environment variable, then writes the
// encrypted key file.
func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "wallet.key.enc", "output path for the encrypted key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password := os.Getenv("GABAGOOL_WALLET_KEY_PASSWORD")
	if password == "" {
		return fmt.Errorf("encrypt-key: GABAGOOL_WALLET_KEY_PASSWORD must be set")
	}

	fmt.Fprint(os.Stderr, "private key (hex): ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("encrypt-key: read key: %w", err)
	}
	privateKey := strings.TrimSpace(line)

	encrypted, err := crypto.EncryptKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if err := os.WriteFile(*out, encrypted, 0o600); err != nil {
		return fmt.Errorf("encrypt-key: write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "encrypted key written to %s\n", *out)
	return nil
}
