package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/netutil"

	"github.com/codeGROOVE-dev/larkhook/pkg/config"
	"github.com/codeGROOVE-dev/larkhook/pkg/feishu"
	"github.com/codeGROOVE-dev/larkhook/pkg/logger"
	"github.com/codeGROOVE-dev/larkhook/pkg/secrets"
	"github.com/codeGROOVE-dev/larkhook/pkg/security"
	"github.com/codeGROOVE-dev/larkhook/pkg/webhook"
)

const (
	readTimeout     = 10 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		logger.Error(context.Background(), "server exited", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("larkhook", pflag.ContinueOnError)
	config.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := fs.GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(path, os.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	if cfg.GCPProject != "" {
		sm, err := secrets.New(ctx, cfg.GCPProject, "")
		if err != nil {
			return err
		}
		defer func() {
			if err := sm.Close(); err != nil {
				logger.Warn(ctx, "failed to close secret manager client", logger.Fields{"error": err.Error()})
			}
		}()
		warn := func(name string, err error) {
			logger.Warn(ctx, "optional secret not available", logger.Fields{"name": name, "error": err.Error()})
		}
		if err := cfg.ResolveSecrets(ctx, sm, warn); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.GitHubWebhookSecret == "" {
		logger.Warn(ctx, "no webhook secret configured, webhook signatures will not be verified", logger.Fields{
			"hint": "set GITHUB_WEBHOOK_SECRET or github_webhook_secret",
		})
	}

	srv, err := newServer(cfg)
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	return serve(ctx, cfg, srv)
}

func setupLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.New(os.Stderr, logger.Options{Level: level, JSON: cfg.LogFormat == "json"}))
	return nil
}

type server struct {
	http        *http.Server
	rateLimiter *security.RateLimiter
}

func newServer(cfg *config.Config) (*server, error) {
	client := feishu.NewClient(feishu.Config{
		WebhookURL:    cfg.FeishuWebhookURL,
		SigningSecret: cfg.FeishuSigningSecret,
		Locale:        cfg.FeishuLocale,
		Timeout:       cfg.DeliveryTimeout,
		Attempts:      cfg.DeliveryAttempts,
	})

	var allowlist security.IPAllowlist
	if cfg.GitHubIPsOnly {
		v, err := security.NewGitHubIPValidator(true, cfg.ExtraSourceCIDRs...)
		if err != nil {
			return nil, err
		}
		allowlist = v
	}
	rateLimiter := security.NewRateLimiter(cfg.RateLimit, time.Minute)

	mux := http.NewServeMux()
	hook := webhook.NewHandler(client, cfg.GitHubWebhookSecret, cfg.AllowedEvents)
	mux.Handle(cfg.WebhookPath, security.Middleware(rateLimiter, allowlist)(hook))
	// The health probe sits outside the middleware so load balancers are
	// neither rate limited nor IP filtered.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok")) //nolint:errcheck // health probe
	})

	// Outbound delivery runs inside the request, so the write timeout
	// covers every attempt and the backoff between them.
	writeTimeout := readTimeout + feishu.MaxSendDuration(cfg.DeliveryAttempts, cfg.DeliveryTimeout, 0) + time.Second

	return &server{
		http: &http.Server{
			Addr:           cfg.Addr,
			Handler:        mux,
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			IdleTimeout:    idleTimeout,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		rateLimiter: rateLimiter,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, s *server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	if cfg.LetsEncrypt.Enabled {
		if err := os.MkdirAll(cfg.LetsEncrypt.CacheDir, 0o700); err != nil {
			return fmt.Errorf("failed to create Let's Encrypt cache directory: %w", err)
		}

		certManager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.LetsEncrypt.Domains...),
			Cache:      autocert.DirCache(cfg.LetsEncrypt.CacheDir),
			Email:      cfg.LetsEncrypt.Email,
		}
		s.http.Addr = ":443"
		s.http.TLSConfig = &tls.Config{
			GetCertificate: certManager.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}

		go func() {
			logger.Info(ctx, "starting HTTP server on :80 for Let's Encrypt ACME challenges", nil)
			acme := &http.Server{
				Addr:              ":80",
				Handler:           certManager.HTTPHandler(nil),
				ReadHeaderTimeout: readTimeout,
			}
			if err := acme.ListenAndServe(); err != nil {
				logger.Warn(ctx, "HTTP ACME server error, certificate issuance may fail", logger.Fields{"error": err.Error()})
			}
		}()
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConns)

	go func() {
		if cfg.LetsEncrypt.Enabled {
			logger.Info(ctx, "starting HTTPS server with Let's Encrypt", logger.Fields{
				"addr":    s.http.Addr,
				"domains": cfg.LetsEncrypt.Domains,
			})
			errCh <- s.http.ServeTLS(ln, "", "")
			return
		}
		logger.Warn(ctx, "TLS not enabled, use --letsencrypt or a TLS-terminating proxy in production", nil)
		logger.Info(ctx, "starting HTTP server", logger.Fields{
			"addr":         s.http.Addr,
			"webhook_path": cfg.WebhookPath,
			"max_conns":    cfg.MaxConns,
		})
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	logger.Info(context.Background(), "server stopped", nil)
	return nil
}
