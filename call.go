package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/authpipe/internal/api"
)

// Call flags.
var (
	flagCallAuth    string
	flagCallData    string
	flagCallHeaders []string
	flagCallRepeat  int
)

// maxRepeat bounds --repeat.
const maxRepeat = 256

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call METHOD PATH",
		Short: "Send one request through the pipeline and print the response body",
		Long: `Send a request to the service with the stored credentials.

An expired access token is refreshed transparently and the call replayed.
--repeat sends the same request concurrently, which shares a single refresh
among all of them.`,
		Args: cobra.ExactArgs(2),
		RunE: runCall,
	}

	cmd.Flags().StringVar(&flagCallAuth, "auth", api.AuthAccessToken.String(),
		"credentials to attach: none, api_key_only, access_token, refresh_token, both")
	cmd.Flags().StringVarP(&flagCallData, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&flagCallHeaders, "header", "H", nil, "extra header as 'Name: value' (repeatable)")
	cmd.Flags().IntVar(&flagCallRepeat, "repeat", 1, "send the request this many times concurrently")

	return cmd
}

// callResult is one line of `call --json` output.
type callResult struct {
	Index      int             `json:"index"`
	StatusCode int             `json:"status,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Kind       string          `json:"kind"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func runCall(cmd *cobra.Command, args []string) error {
	if err := resolvedCfg.RequireService(); err != nil {
		return err
	}

	req, err := buildCallRequest(args[0], args[1], flagCallAuth, flagCallData, flagCallHeaders)
	if err != nil {
		return err
	}

	if flagCallRepeat < 1 || flagCallRepeat > maxRepeat {
		return fmt.Errorf("call: --repeat must be between 1 and %d", maxRepeat)
	}

	logger := buildLogger()
	ctx := cmd.Context()

	p, err := NewPipeline(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := p.Session.Restore(ctx); err != nil {
		return err
	}

	results, err := sendConcurrent(ctx, p.Client, req, flagCallRepeat, logger)

	writeCallResults(cmd.OutOrStdout(), results, flagJSON)

	return err
}

// buildCallRequest validates the command-line pieces of a request.
func buildCallRequest(method, path, auth, data string, headers []string) (api.Request, error) {
	requirement, err := api.ParseAuthRequirement(auth)
	if err != nil {
		return api.Request{}, err
	}

	if !strings.HasPrefix(path, "/") {
		return api.Request{}, fmt.Errorf("call: path %q must start with /", path)
	}

	req := api.Request{
		Method: strings.ToUpper(method),
		Path:   path,
		Auth:   requirement,
	}

	if data != "" {
		if !json.Valid([]byte(data)) {
			return api.Request{}, errors.New("call: --data is not valid JSON")
		}

		req.Body = []byte(data)
	}

	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return api.Request{}, fmt.Errorf("call: header %q must look like 'Name: value'", h)
		}

		if req.Header == nil {
			req.Header = http.Header{}
		}

		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return req, nil
}

// doer is the slice of *api.Client the call command uses.
type doer interface {
	Do(ctx context.Context, req api.Request) (*api.Response, error)
}

// sendConcurrent issues n copies of req at once. Every result is collected;
// the returned error is the first failure, if any. The group has no shared
// context, so one failure does not cancel the others.
func sendConcurrent(ctx context.Context, c doer, req api.Request, n int, logger *slog.Logger) ([]callResult, error) {
	results := make([]callResult, n)

	var g errgroup.Group

	for i := range n {
		g.Go(func() error {
			resp, err := c.Do(ctx, req)

			results[i] = toCallResult(i, resp, err)

			if err != nil {
				logger.Debug("call failed", slog.Int("index", i), slog.String("error", err.Error()))
			}

			return err
		})
	}

	return results, g.Wait()
}

func toCallResult(i int, resp *api.Response, err error) callResult {
	r := callResult{Index: i, Kind: api.KindOf(err).String()}

	if err != nil {
		r.Error = err.Error()

		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			r.StatusCode = apiErr.StatusCode
			r.RequestID = apiErr.RequestID
		}

		return r
	}

	r.StatusCode = resp.StatusCode
	r.RequestID = resp.RequestID

	if json.Valid(resp.Body) {
		r.Body = resp.Body
	} else if len(resp.Body) > 0 {
		quoted, _ := json.Marshal(string(resp.Body))
		r.Body = quoted
	}

	return r
}

// writeCallResults prints bodies in index order. With asJSON every result
// is one JSON line.
func writeCallResults(w io.Writer, results []callResult, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, r := range results {
			_ = enc.Encode(r)
		}

		return
	}

	for _, r := range results {
		if len(results) > 1 {
			fmt.Fprintf(w, "# %d: %s\n", r.Index, r.Kind)
		}

		if r.Error != "" {
			fmt.Fprintf(w, "error: %s\n", r.Error)
			continue
		}

		fmt.Fprintf(w, "%s\n", r.Body)
	}
}
