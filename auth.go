package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/authpipe/internal/config"
	"github.com/tonimelisma/authpipe/internal/extauth"
	"github.com/tonimelisma/authpipe/internal/session"
)

// Login flags.
var (
	flagEmail         string
	flagPasswordStdin bool
	flagExternal      bool
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password, or through the external provider",
		Long: `Sign in and persist the credential pair.

With --email the password is read from stdin (one line) when --password-stdin
is given, or prompted for otherwise. With --external the device code flow of
the [external] provider is used instead.`,
		RunE: runLogin,
	}

	cmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	cmd.Flags().BoolVar(&flagPasswordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&flagExternal, "external", false, "sign in through the external identity provider")
	cmd.MarkFlagsMutuallyExclusive("email", "external")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved credential pair",
		RunE:  runLogout,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored and when its access token expires",
		RunE:  runStatus,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if err := resolvedCfg.RequireService(); err != nil {
		return err
	}

	logger := buildLogger()
	ctx := cmd.Context()

	p, err := NewPipeline(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if flagExternal {
		return loginExternal(ctx, p, cmd.ErrOrStderr(), logger)
	}

	if flagEmail == "" {
		return errors.New("login: --email or --external is required")
	}

	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), flagPasswordStdin)
	if err != nil {
		return err
	}

	logger.Info("login started", "email", flagEmail)

	if err := p.Session.Login(ctx, flagEmail, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	logger.Info("login successful", "email", flagEmail)
	statusf("Login successful.\n")

	return nil
}

func loginExternal(ctx context.Context, p *Pipeline, prompt io.Writer, logger *slog.Logger) error {
	ext := resolvedCfg.External
	if ext.Provider == "" {
		return errors.New("login: no [external] provider configured")
	}

	src := extauth.NewDeviceFlowSource(extauth.DeviceFlowConfig{
		Provider:      ext.Provider,
		ClientID:      ext.ClientID,
		DeviceAuthURL: ext.DeviceAuthURL,
		TokenURL:      ext.TokenURL,
		Scopes:        ext.Scopes,
	}, func(da extauth.DeviceAuth) {
		// Device code prompts must always be visible, even with --quiet.
		fmt.Fprintf(prompt, "To sign in, visit: %s\n", da.VerificationURI)
		fmt.Fprintf(prompt, "Enter code: %s\n", da.UserCode)
	}, logger)

	ctx, cancel := extauth.WithDeadline(ctx)
	defer cancel()

	if err := p.Session.LoginExternal(ctx, src); err != nil {
		return fmt.Errorf("login via %s failed: %w", ext.Provider, err)
	}

	statusf("Login via %s successful.\n", ext.Provider)

	return nil
}

// readPassword reads one line from in. Without fromStdin it prints a prompt
// first; the line is still read from in.
func readPassword(in io.Reader, prompt io.Writer, fromStdin bool) (string, error) {
	if !fromStdin {
		fmt.Fprint(prompt, "Password: ")
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("login: empty password")
	}

	return password, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
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

	if err := p.Session.Logout(ctx, "logout"); err != nil {
		return err
	}

	logger.Info("logout successful")
	statusf("Logged out.\n")

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	State         session.State `json:"state"`
	Backend       string        `json:"backend"`
	AccessExpires *time.Time    `json:"access_expires,omitempty"`
	ExpiresIn     string        `json:"expires_in,omitempty"`
	Serve         *serveInfo    `json:"serve,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	p, err := NewPipeline(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	out, err := buildStatus(ctx, p, resolvedCfg, time.Now())
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	printStatusText(cmd.OutOrStdout(), out, time.Now())

	return nil
}

// buildStatus inspects the store and the serve file without calling the
// service.
func buildStatus(ctx context.Context, p *Pipeline, cfg *config.Resolved, now time.Time) (statusOutput, error) {
	out := statusOutput{Backend: cfg.Storage.Backend}

	if info, ok := runningServe(config.PIDFilePath()); ok {
		out.Serve = &info
	}

	state, err := p.Session.Restore(ctx)
	if err != nil {
		return out, err
	}

	out.State = state
	if state == session.StateLoggedOut {
		return out, nil
	}

	cred, err := p.Store.Get(ctx)
	if err != nil || cred == nil {
		return out, err
	}

	if exp, ok := session.TokenExpiry(cred.AccessToken); ok {
		out.AccessExpires = &exp
		out.ExpiresIn = exp.Sub(now).Round(time.Second).String()
	}

	return out, nil
}

func printStatusText(w io.Writer, out statusOutput, now time.Time) {
	fields := []field{
		{"state", out.State.String()},
		{"backend", out.Backend},
	}

	if out.AccessExpires != nil {
		fields = append(fields, field{"access token expires", formatExpiry(*out.AccessExpires, now)})
	}

	if out.Serve != nil {
		fields = append(fields, field{"serve", fmt.Sprintf("PID %d on %s since %s",
			out.Serve.PID, out.Serve.Listen, formatTime(out.Serve.Started, now))})
	} else {
		fields = append(fields, field{"serve", "not running"})
	}

	printFields(w, fields)
}
