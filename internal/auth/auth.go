package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/beekhof/mcp-ical/internal/config"
	"github.com/emersion/go-webdav"
	"golang.org/x/oauth2"
)

// TokenStore is an interface for saving and loading OAuth tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// ErrNoToken is returned when bearer-token auth is configured but no token
// has been stored yet.
var ErrNoToken = errors.New("no OAuth token stored; run with --login first")

// autoSaveTokenSource wraps an oauth2.TokenSource and automatically saves refreshed tokens.
type autoSaveTokenSource struct {
	source     oauth2.TokenSource
	tokenStore TokenStore
	lastToken  *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	// Check if the token was refreshed by comparing access tokens
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}

// NewCalDAVHTTPClient returns an HTTP client that authenticates every CalDAV
// request. A password selects HTTP basic auth (iCloud app-specific
// passwords); otherwise the OAuth token at TokenPath is sent as a bearer
// token and refreshed through the client in CredentialsPath when present.
func NewCalDAVHTTPClient(ctx context.Context, cfg config.CalDAVConfig, timeout time.Duration) (webdav.HTTPClient, error) {
	base := &http.Client{Timeout: timeout}

	if !cfg.UsesOAuth() {
		return webdav.HTTPClientWithBasicAuth(base, cfg.Username, cfg.Password), nil
	}

	tokenStore := NewFileTokenStore(cfg.TokenPath)
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil {
		return nil, ErrNoToken
	}

	var source oauth2.TokenSource
	if cfg.CredentialsPath != "" {
		oauthConfig, err := OAuthConfig(cfg)
		if err != nil {
			return nil, err
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		source = oauthConfig.TokenSource(ctx, token)
	} else {
		source = oauth2.StaticTokenSource(token)
	}

	client := oauth2.NewClient(ctx, &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, source),
		tokenStore: tokenStore,
		lastToken:  token,
	})
	client.Timeout = timeout
	return client, nil
}

// OAuthConfig builds the OAuth 2.0 client configuration from the credentials
// file named in cfg.
func OAuthConfig(cfg config.CalDAVConfig) (*oauth2.Config, error) {
	if cfg.CredentialsPath == "" {
		return nil, fmt.Errorf("credentials_path must be set for OAuth login")
	}
	client, err := config.LoadOAuthCredentials(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  client.AuthURL,
			TokenURL: client.TokenURL,
		},
	}, nil
}

// startLocalServer starts a local HTTP server to receive the OAuth callback.
// Returns the redirect URL, a channel for the authorization code, and a channel for errors.
// Uses port 8080 by default, or a random port if 8080 is unavailable.
func startLocalServer() (string, <-chan string, <-chan error, error) {
	// Try port 8080 first, fall back to random port if unavailable
	listener, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code != "" {
			fmt.Fprintf(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			codeChan <- code
		} else {
			errMsg := r.URL.Query().Get("error")
			if errMsg != "" {
				errorChan <- fmt.Errorf("authorization error: %s", errMsg)
				fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", errMsg)
			} else {
				fmt.Fprintf(w, "<html><body><h1>No authorization code received</h1></body></html>")
				errorChan <- fmt.Errorf("no authorization code received")
			}
		}
		go func() {
			time.Sleep(1 * time.Second)
			server.Shutdown(context.Background())
		}()
	})
	server.Handler = mux

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errorChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	return redirectURL, codeChan, errorChan, nil
}

// Login makes sure a token is stored, running the interactive browser flow
// when the store is empty. Prompts go to stderr; stdout is reserved for MCP.
func Login(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore) (*oauth2.Token, error) {
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token != nil {
		return token, nil
	}

	redirectURL, codeChan, errorChan, err := startLocalServer()
	if err != nil {
		return nil, fmt.Errorf("failed to start local server: %w", err)
	}
	oauthConfig.RedirectURL = redirectURL

	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Fprintf(os.Stderr, "Starting local server on %s\n", redirectURL)
	if redirectURL != "http://127.0.0.1:8080" {
		fmt.Fprintf(os.Stderr, "Note: Port 8080 was unavailable. Make sure %s is an authorized redirect URI for your OAuth client.\n", redirectURL)
	}
	fmt.Fprintln(os.Stderr, "\nPlease visit the following URL to authorize the application:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintln(os.Stderr, "\nWaiting for authorization...")

	// Wait for the authorization code
	var code string
	select {
	case code = <-codeChan:
	case err := <-errorChan:
		return nil, fmt.Errorf("failed to receive authorization code: %w", err)
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timeout: no response received within 5 minutes")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if code == "" {
		return nil, fmt.Errorf("no authorization code received")
	}

	return exchangeAndSave(ctx, oauthConfig, tokenStore, code)
}

// LoginWithReader is the headless variant of Login: the user pastes the
// authorization code, which is read from reader.
func LoginWithReader(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, reader io.Reader) (*oauth2.Token, error) {
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token != nil {
		return token, nil
	}

	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

	fmt.Fprintln(os.Stderr, "Please visit the following URL to authorize the application:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprint(os.Stderr, "Enter the authorization code: ")

	var code string
	if _, err := fmt.Fscanln(reader, &code); err != nil {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}

	return exchangeAndSave(ctx, oauthConfig, tokenStore, code)
}

func exchangeAndSave(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, code string) (*oauth2.Token, error) {
	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if err := tokenStore.SaveToken(token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Authorization successful!")
	return token, nil
}
