// ingest pushes upstream parser output (NDJSON) into a running review
// service, or validates it locally with --dry-run.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"dhruv/internal/ingest"
	jwttoken "dhruv/internal/jwt_token"
	"dhruv/internal/platform/config"
	"dhruv/internal/platform/logger"
)

type options struct {
	server   string
	token    string
	reviewer string
	dryRun   bool
	timeout  time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	flagSet.StringVar(&opts.server, "server", "http://localhost:8080", "review service base URL")
	flagSet.StringVar(&opts.token, "token", os.Getenv("DHRUV_TOKEN"), "bearer token for the review service")
	flagSet.StringVar(&opts.reviewer, "reviewer", "", "mint a token for this reviewer using JWT_SIGNING_KEY instead of --token")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "decode and validate locally without sending")
	flagSet.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ingest [flags] [file.ndjson ...]\n\nReads stdin when no file is given.\n\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	inputs := flagSet.Args()
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	if opts.reviewer != "" && !opts.dryRun {
		token, err := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer).
			GenerateReviewerToken(opts.reviewer, opts.reviewer, time.Hour)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		opts.token = token
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	for _, name := range inputs {
		body, err := readInput(name, stdin)
		if err != nil {
			return err
		}
		var report any
		if opts.dryRun {
			report, err = validate(body, name)
		} else {
			report, err = send(ctx, opts, body)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Info("input processed", "input", name, "dry_run", opts.dryRun)
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return nil
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

// validate runs the same decoding and gating the server applies.
func validate(body []byte, source string) (*ingest.Report, error) {
	lines, malformed, err := ingest.DecodeNDJSON(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	batch, err := ingest.Gate{}.Ingest(lines, time.Now())
	if err != nil {
		return nil, err
	}
	report := &ingest.Report{
		Source:   source,
		Received: len(lines) + len(malformed),
		Accepted: len(batch.Items),
		Errors:   len(malformed) + len(batch.Errors),
	}
	for _, e := range append(malformed, batch.Errors...) {
		report.ErrorSamples = append(report.ErrorSamples, ingest.LineError{Line: e.Line, Error: e.Err.Error()})
	}
	return report, nil
}

func send(ctx context.Context, opts options, body []byte) (json.RawMessage, error) {
	if opts.token == "" {
		return nil, errors.New("no token: pass --token, set DHRUV_TOKEN or use --reviewer")
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	url := strings.TrimRight(opts.server, "/") + "/api/ingest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Authorization", "Bearer "+opts.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return json.RawMessage(payload), nil
}
