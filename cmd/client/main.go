// Package main provides a command-line client that replays a GitHub webhook
// payload against a larkhook server, signed the way GitHub signs deliveries.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const requestTimeout = 30 * time.Second

// webhookSecret returns the signing secret from the flag, falling back to
// the GITHUB_WEBHOOK_SECRET environment variable.
func webhookSecret(flagSecret string) string {
	if flagSecret != "" {
		return flagSecret
	}
	return os.Getenv("GITHUB_WEBHOOK_SECRET")
}

func readPayload(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func signature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func run(args []string) error {
	fs := pflag.NewFlagSet("larkhook-send", pflag.ContinueOnError)
	target := fs.String("url", "http://localhost:8080/webhook", "larkhook webhook URL")
	event := fs.StringP("event", "e", "", "GitHub event type (X-GitHub-Event)")
	payloadPath := fs.StringP("payload", "p", "-", "payload file, - for stdin")
	secret := fs.String("secret", "", "webhook secret (default: GITHUB_WEBHOOK_SECRET)")
	method := fs.String("method", http.MethodPost, "HTTP method")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *event == "" {
		return errors.New("event type required: --event")
	}

	body, err := readPayload(*payloadPath)
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, *method, *target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "GitHub-Hookshot/larkhook-send")
	req.Header.Set("X-GitHub-Event", *event)        //nolint:canonicalheader // GitHub webhook header
	req.Header.Set("X-GitHub-Delivery", deliveryID) //nolint:canonicalheader // GitHub webhook header
	if s := webhookSecret(*secret); s != "" {
		req.Header.Set("X-Hub-Signature-256", signature(body, s))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only response

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	fmt.Printf("delivery %s: %s\n%s", deliveryID, resp.Status, out)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
