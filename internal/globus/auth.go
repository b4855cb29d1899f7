package globus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cortexlab/alyx-go/internal/tokenfile"
)

// DefaultTokenURL is the Globus Auth token endpoint.
const DefaultTokenURL = "https://auth.globus.org/v2/oauth2/token"

// TokenFile is the on-disk record of the transfer-scoped Globus tokens.
type TokenFile struct {
	RefreshToken string `json:"transfer_rt"`
	AccessToken  string `json:"transfer_at"`
	ExpiresAt    int64  `json:"expires_at_s"`
}

// AuthConfig locates the native-app client and its stored tokens.
type AuthConfig struct {
	ClientID  string
	TokenURL  string
	TokenPath string
}

// TokenSource loads the stored refresh token and returns a source that
// refreshes access tokens silently and persists each new one.
// Returns ErrNotLoggedIn if no refresh token is stored.
//
// ctx must outlive the TokenSource; it carries the HTTP client used for
// refreshes.
func TokenSource(ctx context.Context, cfg AuthConfig, logger *slog.Logger) (oauth2.TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var tf TokenFile

	found, err := tokenfile.ReadJSON(cfg.TokenPath, &tf)
	if err != nil {
		return nil, err
	}

	if !found || tf.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token at %s", ErrNotLoggedIn, cfg.TokenPath)
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	oc := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		TokenType:    "Bearer",
	}

	if tf.ExpiresAt > 0 {
		tok.Expiry = time.Unix(tf.ExpiresAt, 0)
	}

	logger.Debug("loaded globus token",
		slog.String("path", cfg.TokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return &persistingSource{
		src:    oc.TokenSource(ctx, tok),
		path:   cfg.TokenPath,
		last:   tf.AccessToken,
		logger: logger,
	}, nil
}

// NewHTTPClient wraps ts in an HTTP client that sets bearer tokens.
func NewHTTPClient(ctx context.Context, ts oauth2.TokenSource, timeout time.Duration) *http.Client {
	c := oauth2.NewClient(ctx, ts)
	c.Timeout = timeout

	return c
}

// persistingSource saves refreshed tokens back to the token file.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, fmt.Errorf("globus: refreshing token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken == p.last {
		return tok, nil
	}

	tf := TokenFile{
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
	}

	if !tok.Expiry.IsZero() {
		tf.ExpiresAt = tok.Expiry.Unix()
	}

	if err := tokenfile.WriteJSON(p.path, tf); err != nil {
		p.logger.Warn("failed to persist refreshed globus token",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)

		return tok, nil
	}

	p.last = tok.AccessToken
	p.logger.Info("globus token refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}
