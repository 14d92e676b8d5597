package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type apiClient struct {
	baseURL   string
	token     string
	requestID string
	http      *http.Client
}

func newAPIClient(baseURL, token, requestID string) *apiClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &apiClient{
		baseURL:   baseURL,
		token:     strings.TrimSpace(token),
		requestID: strings.TrimSpace(requestID),
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.requestID != "" {
		req.Header.Set("X-Request-Id", c.requestID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err := w.Write(respBody)
		return err
	}
	return json.Unmarshal(respBody, out)
}

type snapshot struct {
	SessionID   string `json:"session_id"`
	Stage       string `json:"stage"`
	Progress    int    `json:"progress"`
	Complete    bool   `json:"complete"`
	Exported    bool   `json:"exported"`
	RecordCount int    `json:"record_count"`
	LineCount   int    `json:"line_count"`
	TotalLines  int    `json:"total_lines"`
	RunID       string `json:"run_id"`
}

type exportResult struct {
	Export struct {
		Name   string `json:"name"`
		Lines  int    `json:"lines"`
		Bytes  int    `json:"bytes"`
		SHA256 string `json:"sha256"`
	} `json:"export"`
}

type logLine struct {
	Seq  int    `json:"seq"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type logsPage struct {
	Lines   []logLine `json:"lines"`
	Next    int       `json:"next"`
	Session snapshot  `json:"session"`
}

type demoOptions struct {
	Count      int
	Poll       time.Duration
	Timeout    time.Duration
	DatasetOut string
	Keep       bool
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	defaultRequestID := fmt.Sprintf("demo-%s", time.Now().UTC().Format("20060102T150405Z"))

	var (
		baseURL   = flag.String("addr", envOr("SYNTHLAB_URL", "http://localhost:8090"), "synthlab base URL")
		token     = flag.String("token", envOr("SYNTHLAB_BEARER_TOKEN", ""), "Bearer token (required for OIDC mode)")
		requestID = flag.String("request-id", envOr("SYNTHLAB_DEMO_REQUEST_ID", defaultRequestID), "X-Request-Id for correlation")
		opts      demoOptions
	)
	flag.IntVar(&opts.Count, "count", 3, "Number of service tickets to generate")
	flag.DurationVar(&opts.Poll, "poll", 250*time.Millisecond, "Log polling interval")
	flag.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "Give up if training has not completed")
	flag.StringVar(&opts.DatasetOut, "dataset-out", "", "Write the JSONL dataset to this file")
	flag.BoolVar(&opts.Keep, "keep", false, "Keep the session instead of deleting it")
	flag.Parse()

	client := newAPIClient(*baseURL, *token, *requestID)
	fmt.Printf("==> synthlab demo (addr=%s, request_id=%s)\n", client.baseURL, client.requestID)
	if err := runDemo(client, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runDemo walks one session through generate, export and training, printing
// the training log as it is emitted.
func runDemo(client *apiClient, opts demoOptions, out io.Writer) error {
	var session snapshot
	if err := client.do(http.MethodPost, "/sessions", nil, &session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Fprintf(out, "==> created session: %s\n", session.SessionID)
	base := "/sessions/" + session.SessionID
	if !opts.Keep {
		defer func() { _ = client.do(http.MethodDelete, base, nil, nil) }()
	}

	if err := client.do(http.MethodPost, base+"/generate", map[string]any{"count": opts.Count}, &session); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	fmt.Fprintf(out, "==> generated %d records (stage=%s)\n", session.RecordCount, session.Stage)

	if opts.DatasetOut != "" {
		var buf bytes.Buffer
		if err := client.do(http.MethodGet, base+"/dataset", nil, &buf); err != nil {
			return fmt.Errorf("download dataset: %w", err)
		}
		if err := os.WriteFile(opts.DatasetOut, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write dataset: %w", err)
		}
		fmt.Fprintf(out, "==> wrote dataset: %s\n", opts.DatasetOut)
	}

	var exported exportResult
	if err := client.do(http.MethodPost, base+"/export", nil, &exported); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	sha := exported.Export.SHA256
	if len(sha) > 12 {
		sha = sha[:12]
	}
	fmt.Fprintf(out, "==> exported %s (lines=%d bytes=%d sha256=%s)\n", exported.Export.Name, exported.Export.Lines, exported.Export.Bytes, sha)

	if err := client.do(http.MethodPost, base+"/training", nil, &session); err != nil {
		return fmt.Errorf("start training: %w", err)
	}
	fmt.Fprintf(out, "==> training run %s (%d lines)\n", session.RunID, session.TotalLines)

	deadline := time.Now().Add(opts.Timeout)
	next := 0
	for {
		var page logsPage
		if err := client.do(http.MethodGet, fmt.Sprintf("%s/logs?from=%d", base, next), nil, &page); err != nil {
			return fmt.Errorf("poll logs: %w", err)
		}
		for _, line := range page.Lines {
			fmt.Fprintf(out, "[%3d%%] %-7s %s\n", page.Session.Progress, line.Kind, line.Text)
		}
		next = page.Next
		if page.Session.Complete {
			fmt.Fprintf(out, "==> training complete (stage=%s progress=%d)\n", page.Session.Stage, page.Session.Progress)
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("training did not complete before timeout")
		}
		time.Sleep(opts.Poll)
	}
}
