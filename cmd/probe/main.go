// Command probe drives the resilient API client against a backend from the
// terminal, exercising the full request pipeline: rate enforcement, auth
// injection, retry and refresh.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hausofbasquiat/gatekeeper/internal/adapters/notify"
	memorystorage "github.com/hausofbasquiat/gatekeeper/internal/adapters/storage/memory"
	"github.com/hausofbasquiat/gatekeeper/internal/adapters/tokens"
	"github.com/hausofbasquiat/gatekeeper/internal/config"
	"github.com/hausofbasquiat/gatekeeper/internal/core/services"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var (
		method  = flag.String("method", "GET", "HTTP method")
		path    = flag.String("path", "/healthz", "request path")
		token   = flag.String("token", "", "bearer token to attach")
		timeout = flag.Duration("timeout", time.Minute, "overall deadline")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	governor, err := services.NewGovernor(memorystorage.New(), services.GovernorConfig{
		Rules:        cfg.Governor.Rules,
		MaxRecordAge: cfg.Governor.MaxRecordAge,
	})
	if err != nil {
		log.Fatalf("failed to create governor: %v", err)
	}
	defer governor.Close()

	tokenStore := tokens.New()
	if *token != "" {
		tokenStore.SetToken(*token)
	}

	notifier := notify.NewThrottled(notify.NewSlog(nil), cfg.Client.NotifyThrottle)

	client, err := services.NewAPIClient(services.ClientConfig{
		BaseURL:        cfg.Client.BaseURL,
		Mode:           services.Mode(cfg.Mode),
		EnforceHTTPS:   cfg.Client.EnforceHTTPS,
		Timeout:        cfg.Client.Timeout,
		MaxRetries:     cfg.Client.MaxRetries,
		RetryBaseDelay: cfg.Client.RetryBaseDelay,
	}, governor, tokenStore, notifier)
	if err != nil {
		log.Fatalf("failed to create api client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := client.Do(ctx, *method, *path, nil)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}

	fmt.Printf("%d (%d retries, %s)\n%s\n", resp.StatusCode, resp.Retries, resp.Duration, resp.Body)
}
