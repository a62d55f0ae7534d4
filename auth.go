package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tacl-io/tacl/internal/authapi"
	"github.com/tacl-io/tacl/internal/env"
	"github.com/tacl-io/tacl/internal/fileapi"
	"github.com/tacl-io/tacl/internal/session"
	"github.com/tacl-io/tacl/internal/token"
)

// keyRenewalWindow is how close to expiry a registered API key gets
// before a new secret is requested automatically.
const keyRenewalWindow = 30 * 24 * time.Hour

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an API key or sign in with credentials",
		Long: `Register stores an API key for a project, or exchanges user
credentials (plus one-time code) or an instance link for a session.

The API key is kept in the config store; sessions are kept separately
and can be cleared without losing the registration.`,
		Args: cobra.NoArgs,
		RunE: runRegister,
	}

	cmd.Flags().Bool("tsd", false, "sign in with username, password and one-time code")
	cmd.Flags().String("instance", "", "sign in with an instance link id")

	return cmd
}

func runRegister(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	e, pnum, err := requireProject()
	if err != nil {
		return err
	}

	if err := probeConnectivity(ctx, e, logger); err != nil {
		return err
	}

	store, err := session.NewStore()
	if err != nil {
		return err
	}

	cfg, err := session.NewConfig()
	if err != nil {
		return err
	}

	auth := authapi.NewClient(e, authHTTPClient(), logger)

	useTSD, err := cmd.Flags().GetBool("tsd")
	if err != nil {
		return err
	}

	instance, err := cmd.Flags().GetString("instance")
	if err != nil {
		return err
	}

	switch {
	case useTSD:
		return registerTSD(ctx, auth, store, cfg, e, pnum)
	case instance != "":
		return registerInstance(ctx, auth, store, cfg, e, pnum, instance)
	default:
		return registerBasic(ctx, auth, store, cfg, e, pnum)
	}
}

// registerBasic stores an API key after verifying it can mint a token.
func registerBasic(
	ctx context.Context, auth *authapi.Client, store *session.Store,
	cfg *session.Config, e env.Environment, pnum string,
) error {
	apiKey, err := promptSecret("API key: ")
	if err != nil {
		return err
	}

	// The environment-qualified kind is both what the server is asked
	// for and the key the session is stored under.
	kind := e.TokenKind("import")

	pair, err := auth.GetTokenBasic(ctx, pnum, apiKey, kind)
	if err != nil {
		return err
	}

	if err := cfg.Update(e.String(), pnum, apiKey); err != nil {
		return err
	}

	if err := store.Update(e.String(), pnum, kind, pair.Access, pair.Refresh); err != nil {
		return err
	}

	statusf("Registered %s in %s\n", pnum, e)

	return nil
}

// registerTSD exchanges user credentials plus a one-time code for a
// session. The API key must already be registered.
func registerTSD(
	ctx context.Context, auth *authapi.Client, store *session.Store,
	cfg *session.Config, e env.Environment, pnum string,
) error {
	apiKey, err := cfg.APIKey(e.String(), pnum)
	if err != nil {
		return fmt.Errorf("%w (run 'tacl register' first)", err)
	}

	user, err := promptLine("Username: ")
	if err != nil {
		return err
	}

	password, err := promptSecret("Password: ")
	if err != nil {
		return err
	}

	otp, err := promptLine("One-time code: ")
	if err != nil {
		return err
	}

	kind := e.TokenKind("import")

	pair, err := auth.GetTokenTSD(ctx, pnum, apiKey, user, password, otp, kind)
	if err != nil {
		return err
	}

	if err := store.Update(e.String(), pnum, kind, pair.Access, pair.Refresh); err != nil {
		return err
	}

	statusf("Signed in to %s in %s\n", pnum, e)

	return nil
}

// registerInstance exchanges an instance link for a session scoped to a
// single remote path.
func registerInstance(
	ctx context.Context, auth *authapi.Client, store *session.Store,
	cfg *session.Config, e env.Environment, pnum, linkID string,
) error {
	apiKey, err := cfg.APIKey(e.String(), pnum)
	if err != nil {
		return fmt.Errorf("%w (run 'tacl register' first)", err)
	}

	challenge, err := promptSecret("Secret challenge (empty if none): ")
	if err != nil {
		return err
	}

	kind := e.TokenKind("import")

	pair, err := auth.GetTokenInstance(ctx, pnum, apiKey, linkID, challenge, kind)
	if err != nil {
		return err
	}

	if err := store.Update(e.String(), pnum, kind, pair.Access, pair.Refresh); err != nil {
		return err
	}

	statusf("Instance session stored for %s in %s\n", pnum, e)

	return nil
}

// probeConnectivity checks that the API host answers at all, so auth
// failures are not mistaken for network ones. Skipped behind a proxy,
// where the probe would test the proxy instead of the API.
func probeConnectivity(ctx context.Context, e env.Environment, logger *slog.Logger) error {
	if env.ProxyConfigured() {
		logger.Debug("https proxy configured, skipping connectivity probe")
		return nil
	}

	target := fmt.Sprintf("%s://%s", e.Scheme(), e.Hostname())

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := authHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", target, err)
	}
	resp.Body.Close()

	return nil
}

// apiClient assembles an authenticated file API client for the given
// token kind ("import" or "export"): loads the stored session, renews
// the API key and access token as needed, and wires a refreshing token
// provider so long transfers stay authenticated.
func apiClient(ctx context.Context, kind string, logger *slog.Logger) (*fileapi.Client, error) {
	e, pnum, err := requireProject()
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore()
	if err != nil {
		return nil, err
	}

	cfg, err := session.NewConfig()
	if err != nil {
		return nil, err
	}

	apiKey, err := cfg.APIKey(e.String(), pnum)
	if err != nil && !errors.Is(err, session.ErrNoAPIKey) {
		return nil, err
	}

	auth := authapi.NewClient(e, authHTTPClient(), logger)

	if apiKey != "" {
		apiKey = maybeRenewKey(ctx, auth, cfg, e, pnum, apiKey, logger)
	}

	qualified := e.TokenKind(kind)

	access, err := store.Token(e.String(), pnum, qualified)
	if err != nil {
		return nil, err
	}

	refresh, err := store.RefreshToken(e.String(), pnum, qualified)
	if err != nil {
		return nil, err
	}

	if store.Expired(e.String(), pnum, qualified) {
		if apiKey == "" {
			return nil, fmt.Errorf("no valid session for %s in %s (run 'tacl register' first)", pnum, e)
		}

		pair, err := auth.GetTokenBasic(ctx, pnum, apiKey, qualified)
		if err != nil {
			return nil, err
		}

		if err := store.Update(e.String(), pnum, qualified, pair.Access, pair.Refresh); err != nil {
			return nil, err
		}

		access, refresh = pair.Access, pair.Refresh
	}

	params := authapi.RefreshParams{Pnum: pnum, Kind: qualified, APIKey: apiKey}
	refresher := authapi.NewRefresher(auth, store, params, access, refresh)

	return fileapi.NewClient(e.BaseURL(), pnum, &http.Client{}, refresher, logger), nil
}

// maybeRenewKey swaps the registered API key for a fresh secret when it
// approaches expiry. Failures are logged and the current key kept; the
// key may still be good for weeks.
func maybeRenewKey(
	ctx context.Context, auth *authapi.Client, cfg *session.Config,
	e env.Environment, pnum, apiKey string, logger *slog.Logger,
) string {
	if !token.ExpiresWithin(apiKey, keyRenewalWindow) {
		return apiKey
	}

	claims, err := token.Parse(apiKey)
	if err != nil || claims.Aud == "" {
		return apiKey
	}

	fresh, err := auth.RenewAPIKey(ctx, pnum, claims.Aud, apiKey)
	if err != nil {
		logger.Debug("API key renewal failed, keeping current key",
			slog.String("pnum", pnum),
			slog.String("error", err.Error()),
		)

		return apiKey
	}

	if err := cfg.Update(e.String(), pnum, fresh); err != nil {
		logger.Warn("could not persist renewed API key",
			slog.String("error", err.Error()),
		)

		return apiKey
	}

	statusf("API key renewed for %s in %s\n", pnum, e)

	return fresh
}

// promptSecret reads a line without echoing. Falls back to a plain read
// when stdin is not a terminal (piped input, tests).
func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)

		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}

		return strings.TrimSpace(string(raw)), nil
	}

	return promptLine("")
}

// promptLine reads one line from stdin.
func promptLine(label string) (string, error) {
	if label != "" {
		fmt.Fprint(os.Stderr, label)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}
