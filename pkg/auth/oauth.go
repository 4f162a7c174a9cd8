package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"
)

const (
	// ClientSecretsFile is the Google API credentials.json downloaded from the
	// cloud console. It holds the client id, secret and redirect URIs.
	ClientSecretsFile = "credentials.json"

	// TokenFile stores the user's OAuth token, refresh token included.
	TokenFile = "token.json"

	// LocalhostAuthPort is where the local server listens for the OAuth
	// redirect.
	LocalhostAuthPort = "6789"

	xdgAppName = "tasklink"
)

// GetConfig creates an oauth2.Config from the client secrets file and specified scopes.
func GetConfig(scopes []string, log zerolog.Logger) (*oauth2.Config, error) {
	xdgConfigBase, err := GetXdgHome()
	if err != nil {
		return nil, err
	}

	clientSecretsFile := filepath.Join(xdgConfigBase, ClientSecretsFile)
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL(config.RedirectURL, log)
	return config, nil
}

// redirectURL forces localhost and out-of-band redirects onto
// LocalhostAuthPort, where getTokenFromWeb listens.
func redirectURL(raw string, log zerolog.Logger) string {
	if raw == "urn:ietf:wg:oauth:2.0:oob" {
		u := fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		log.Info().Str("redirect_url", u).Msg("overriding out-of-band redirect URL")
		return u
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Str("redirect_url", raw).Msg("could not parse redirect URL, using it as is")
		return raw
	}
	if parsedURL.Hostname() != "localhost" && parsedURL.Hostname() != "127.0.0.1" {
		log.Warn().Str("redirect_url", raw).Msg("redirect URL is not a localhost callback")
		return raw
	}
	if port := parsedURL.Port(); port != LocalhostAuthPort {
		if port != "" {
			log.Warn().Str("port", port).Msg("forcing localhost redirect onto the auth port")
		}
		parsedURL.Host = net.JoinHostPort(parsedURL.Hostname(), LocalhostAuthPort)
	}
	return parsedURL.String()
}

// GetClient retrieves an authenticated *http.Client.
// It loads the stored token, which refreshes itself when expired, or runs the
// web authorization flow when there is none.
func GetClient(ctx context.Context, scopes []string, log zerolog.Logger) (*http.Client, error) {
	config, err := GetConfig(scopes, log)
	if err != nil {
		return nil, err
	}

	xdgConfigBase, err := GetXdgHome()
	if err != nil {
		return nil, err
	}

	tokenFile := filepath.Join(xdgConfigBase, TokenFile)
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		log.Info().Str("path", tokenFile).Msg("no stored token, starting web authorization")
		tok, err = getTokenFromWeb(ctx, config, log)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	}

	src := &savingTokenSource{
		base: config.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok,
		log:  log,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// savingTokenSource writes the token back to disk whenever it is refreshed.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	last *oauth2.Token
	log  zerolog.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		if err := saveToken(s.path, tok); err != nil {
			s.log.Warn().Err(err).Msg("could not save refreshed token")
		} else {
			s.log.Debug().Msg("refreshed token saved")
		}
		s.last = tok
	}
	return tok, nil
}

// getTokenFromWeb runs the authorization code flow, capturing the redirect
// on a local web server.
func getTokenFromWeb(ctx context.Context, config *oauth2.Config, log zerolog.Logger) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- errors.New("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()

	// AccessTypeOffline is what makes Google return a refresh token.
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Please open the following URL in your browser to authorize tasklink:\n%s\n", authURL)
	log.Info().Str("redirect_url", config.RedirectURL).Msg("waiting for authorization code")

	select {
	case authCode := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := config.Exchange(exchangeCtx, authCode)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, errors.New("authorization timed out, please try again")
	}
}

// tokenFromFile reads an oauth2.Token from a JSON file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

// saveToken writes an oauth2.Token to path, readable by the owner only.
func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("unable to encode OAuth token: %w", err)
	}
	return nil
}

// GetTasksService creates an authenticated Google Tasks service.
func GetTasksService(ctx context.Context, log zerolog.Logger) (*tasks.Service, error) {
	client, err := GetClient(ctx, []string{tasks.TasksScope}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client for Tasks API: %w", err)
	}

	srv, err := tasks.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Google Tasks service: %w", err)
	}
	return srv, nil
}

// GetXdgHome returns the tasklink configuration directory. TASKLINK_HOME
// overrides the default ~/.config/tasklink.
func GetXdgHome() (string, error) {
	if dir := os.Getenv("TASKLINK_HOME"); dir != "" {
		return dir, nil
	}
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName), nil
}
