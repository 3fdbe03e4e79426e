package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/ignore"
)

const clientTimeout = 5 * time.Minute

var httpClient = &http.Client{Timeout: clientTimeout}

type apiError struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable"`
}

// doJSON sends req and decodes a 2xx JSON reply into out.
func doJSON(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			if e.Retryable {
				return fmt.Errorf("server returned %d: %s (retryable)", resp.StatusCode, e.Error)
			}
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiURL(tenantID, path string) string {
	return strings.TrimRight(serverURL, "/") + "/api/v1/tenants/" + url.PathEscape(tenantID) + path
}

// ingestOptions are the upload form fields shared by every file.
type ingestOptions struct {
	async   bool
	replace bool
}

// uploadFile posts one file to the tenant's upload endpoint and prints the
// outcome.
func uploadFile(cmd *cobra.Command, tenantID, path, documentID string, opts ingestOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"document_id": documentID,
		"async":       strconv.FormatBool(opts.async),
		"replace":     strconv.FormatBool(opts.replace),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		apiURL(tenantID, "/documents/upload"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out map[string]any
	if err := doJSON(req, &out); err != nil {
		return err
	}
	if taskID, ok := out["task_id"]; ok {
		cmd.Printf("Queued %v (task %v)\n", out["document_id"], taskID)
		return nil
	}
	cmd.Printf("Indexed %v: %v chunks\n", out["document_id"], out["chunk_count"])
	return nil
}

// directoryDocumentID names a file found by a directory walk after its
// path, so re-running with --replace updates the same documents.
func directoryDocumentID(rel string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.NewReplacer("/", "-", " ", "_").Replace(rel)
}

// ingestDirectory uploads every supported, non-ignored file under root.
// Failures are reported per file and do not stop the walk.
func ingestDirectory(cmd *cobra.Command, tenantID, root string, opts ingestOptions) error {
	m, err := ignore.Load(root, ignore.DefaultFiles)
	if err != nil {
		return fmt.Errorf("failed to load ignore patterns: %w", err)
	}
	registry := extract.NewRegistry(zap.NewNop())
	files, err := ignore.Walk(root, m, registry.Supports)
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", root, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported documents found under %s", root)
	}

	var failed int
	for _, rel := range files {
		if err := uploadFile(cmd, tenantID, filepath.Join(root, filepath.FromSlash(rel)), directoryDocumentID(rel), opts); err != nil {
			cmd.PrintErrf("%s: %v\n", rel, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(files))
	}
	return nil
}

// watchDirectory uploads every supported file under root that changes,
// replacing its earlier chunks, until ctx is done.
func watchDirectory(ctx context.Context, cmd *cobra.Command, tenantID, root string, opts ingestOptions) error {
	m, err := ignore.Load(root, ignore.DefaultFiles)
	if err != nil {
		return fmt.Errorf("failed to load ignore patterns: %w", err)
	}
	w, err := ignore.NewWatcher(root, m, extract.NewRegistry(zap.NewNop()).Supports)
	if err != nil {
		return err
	}
	defer w.Close()

	opts.replace = true
	cmd.Printf("Watching %s for changes (Ctrl-C to stop)\n", root)
	err = w.Run(ctx, ignore.DefaultDebounce, func(rel string) {
		if err := uploadFile(cmd, tenantID, filepath.Join(root, filepath.FromSlash(rel)), directoryDocumentID(rel), opts); err != nil {
			cmd.PrintErrf("%s: %v\n", rel, err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newIngestCmd() *cobra.Command {
	var (
		documentID string
		watch      bool
		opts       ingestOptions
	)
	cmd := &cobra.Command{
		Use:   "ingest <tenant> <file|dir>",
		Short: "Upload documents to a tenant's knowledge base",
		Long: `Upload a document (.txt, .md, .csv, .json, .html or .pdf) to a running
ragd server. Given a directory, every supported file below it is uploaded,
skipping paths matched by .ragignore or .gitignore at its root.

Examples:
  ragd ingest acme handbook.pdf
  ragd ingest acme faq.md --document-id faq --replace
  ragd ingest acme big.pdf --async
  ragd ingest acme ./docs --replace
  ragd ingest acme ./docs --watch`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, path := args[0], args[1]
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			if !info.IsDir() {
				if watch {
					return fmt.Errorf("--watch requires a directory")
				}
				return uploadFile(cmd, tenantID, path, documentID, opts)
			}
			if documentID != "" {
				return fmt.Errorf("--document-id cannot be used with a directory")
			}
			if err := ingestDirectory(cmd, tenantID, path, opts); err != nil || !watch {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchDirectory(ctx, cmd, tenantID, path, opts)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-upload files in the directory as they change")
	cmd.Flags().StringVar(&documentID, "document-id", "", "document id (generated when empty)")
	cmd.Flags().BoolVar(&opts.async, "async", false, "ingest on the background worker")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "replace the document's existing chunks")
	return cmd
}

type askResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	Citations      []struct {
		Index  int     `json:"index"`
		Source string  `json:"source"`
		Score  float64 `json:"score"`
	} `json:"citations"`
	Degraded bool `json:"degraded"`
}

func newAskCmd() *cobra.Command {
	var (
		conversationID string
		userID         string
	)
	cmd := &cobra.Command{
		Use:   "ask <tenant> <question>",
		Short: "Ask a question against a tenant's knowledge base",
		Long: `Send one chat turn to a running ragd server and print the answer.

Examples:
  ragd ask acme "How long do refunds take?"
  ragd ask acme "And for digital goods?" --conversation 3f2a...`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{
				"message":         strings.Join(args[1:], " "),
				"conversation_id": conversationID,
				"user_id":         userID,
			})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				apiURL(args[0], "/chat"), bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			var out askResponse
			if err := doJSON(req, &out); err != nil {
				return err
			}
			cmd.Println(out.Answer)
			if len(out.Citations) > 0 {
				cmd.Println()
				for _, c := range out.Citations {
					cmd.Printf("[Source %d] %s (%.3f)\n", c.Index, c.Source, c.Score)
				}
			}
			if out.Degraded {
				cmd.PrintErrln("warning: answer was produced in degraded mode")
			}
			cmd.PrintErrf("conversation: %s\n", out.ConversationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	cmd.Flags().StringVar(&userID, "user", "", "user id recorded on new conversations")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ragd server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				strings.TrimRight(serverURL, "/")+"/health", nil)
			if err != nil {
				return err
			}
			var out struct {
				Status  string `json:"status"`
				Version string `json:"version"`
				Async   bool   `json:"async_ingestion"`
			}
			if err := doJSON(req, &out); err != nil {
				return err
			}
			cmd.Printf("Status:  %s\nVersion: %s\nAsync:   %t\n", out.Status, out.Version, out.Async)
			return nil
		},
	}
}
