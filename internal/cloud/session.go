package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// refreshSkew renews tokens this long before they expire.
const refreshSkew = 60 * time.Second

const (
	authFlowPassword = "USER_PASSWORD_AUTH"
	authFlowRefresh  = "REFRESH_TOKEN_AUTH"
	initiateAuth     = "AWSCognitoIdentityProviderService.InitiateAuth"
)

// Tokens are the credentials of a signed-in session.
type Tokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Session supplies current tokens to the query and command transports.
type Session interface {
	CurrentSession(ctx context.Context) (Tokens, error)
}

// CognitoConfig locates the user pool.
type CognitoConfig struct {
	// URL is the Cognito identity provider endpoint,
	// e.g. https://cognito-idp.us-east-1.amazonaws.com/.
	URL string

	// ClientID is the user pool app client id.
	ClientID string
}

// CognitoSession signs in with USER_PASSWORD_AUTH and refreshes with
// REFRESH_TOKEN_AUTH. Credentials are held in memory only.
type CognitoSession struct {
	cfg    CognitoConfig
	client *http.Client
	now    func() time.Time
	logger Logger

	refresh singleflight.Group

	mu       sync.Mutex
	username string
	password string
	tokens   Tokens
}

// NewCognitoSession creates a session that is not yet signed in.
func NewCognitoSession(cfg CognitoConfig, client *http.Client) *CognitoSession {
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &CognitoSession{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the session.
func (s *CognitoSession) SetLogger(logger Logger) {
	s.logger = logger
}

// SignIn authenticates and remembers the credentials for later re-sign-in.
// The credentials are kept even when sign-in fails so CurrentSession can
// retry.
func (s *CognitoSession) SignIn(ctx context.Context, username, password string) error {
	s.mu.Lock()
	s.username, s.password = username, password
	s.mu.Unlock()

	tokens, err := s.initiate(ctx, authFlowPassword, map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	s.logger.Info("signed in to rinnai cloud", "expires_at", tokens.ExpiresAt)
	return nil
}

// CurrentSession returns valid tokens, refreshing or signing in again when
// they are about to expire. Concurrent callers share one refresh.
func (s *CognitoSession) CurrentSession(ctx context.Context) (Tokens, error) {
	s.mu.Lock()
	tokens, hasCredentials := s.tokens, s.username != ""
	s.mu.Unlock()

	if !hasCredentials {
		return Tokens{}, ErrNotSignedIn
	}
	if tokens.IDToken != "" && s.now().Add(refreshSkew).Before(tokens.ExpiresAt) {
		return tokens, nil
	}

	v, err, _ := s.refresh.Do("session", func() (any, error) {
		return s.renew(ctx)
	})
	if err != nil {
		return Tokens{}, err
	}
	return v.(Tokens), nil //nolint:forcetypeassert // renew returns Tokens
}

func (s *CognitoSession) renew(ctx context.Context) (Tokens, error) {
	s.mu.Lock()
	username, password, current := s.username, s.password, s.tokens
	s.mu.Unlock()

	if current.RefreshToken != "" {
		tokens, err := s.initiate(ctx, authFlowRefresh, map[string]string{
			"REFRESH_TOKEN": current.RefreshToken,
		})
		if err == nil {
			// Cognito does not rotate refresh tokens on this flow.
			if tokens.RefreshToken == "" {
				tokens.RefreshToken = current.RefreshToken
			}
			s.mu.Lock()
			s.tokens = tokens
			s.mu.Unlock()
			s.logger.Debug("refreshed rinnai session", "expires_at", tokens.ExpiresAt)
			return tokens, nil
		}
		s.logger.Warn("token refresh failed, signing in again", "error", err)
	}

	if err := s.SignIn(ctx, username, password); err != nil {
		return Tokens{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens, nil
}

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type initiateAuthResponse struct {
	ChallengeName        string `json:"ChallengeName"`
	AuthenticationResult *struct {
		IDToken      string `json:"IdToken"`
		AccessToken  string `json:"AccessToken"`
		RefreshToken string `json:"RefreshToken"`
		ExpiresIn    int    `json:"ExpiresIn"`
	} `json:"AuthenticationResult"`
}

type cognitoError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func (s *CognitoSession) initiate(ctx context.Context, flow string, params map[string]string) (Tokens, error) {
	body, err := json.Marshal(initiateAuthRequest{
		AuthFlow:       flow,
		ClientID:       s.cfg.ClientID,
		AuthParameters: params,
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: encoding request: %w", ErrAuthentication, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: creating request: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", initiateAuth)

	resp, err := s.client.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %s: %w", ErrAuthentication, flow, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ce cognitoError
		if err := json.NewDecoder(resp.Body).Decode(&ce); err == nil && ce.Type != "" {
			return Tokens{}, fmt.Errorf("%w: %s: %s: %s", ErrAuthentication, flow, ce.Type, ce.Message)
		}
		return Tokens{}, fmt.Errorf("%w: %s: status %d", ErrAuthentication, flow, resp.StatusCode)
	}

	var out initiateAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Tokens{}, fmt.Errorf("%w: decoding response: %w", ErrAuthentication, err)
	}
	if out.ChallengeName != "" {
		return Tokens{}, fmt.Errorf("%w: unsupported challenge %s", ErrAuthentication, out.ChallengeName)
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.IDToken == "" {
		return Tokens{}, fmt.Errorf("%w: response carried no tokens", ErrAuthentication)
	}

	r := out.AuthenticationResult
	tokens := Tokens{
		IDToken:      r.IDToken,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
	if exp, err := tokenExpiry(r.IDToken); err == nil {
		tokens.ExpiresAt = exp
	}
	return tokens, nil
}

// tokenExpiry reads the exp claim without verifying the signature. The
// token came straight from Cognito over TLS and is only forwarded.
func tokenExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
