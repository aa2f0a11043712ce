package mdapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"

	"github.com/mdxtools/mdup/pkg/config"
	"github.com/mdxtools/mdup/pkg/errcodes"
)

// TokenManager owns the OAuth2 token lifecycle: password-grant login,
// refresh-grant rotation, expiry detection, and the on-disk token cache.
type TokenManager struct {
	client   *Client
	creds    config.Credentials
	tokenURL string
	filePath string
	log      logger.Logger

	mu      sync.RWMutex
	access  string
	refresh string

	now func() time.Time
}

type tokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func newTokenManager(client *Client, cfg *config.Config) *TokenManager {
	tm := &TokenManager{
		client:   client,
		creds:    cfg.Credentials,
		tokenURL: cfg.Paths.AuthURL + "/token",
		filePath: cfg.Paths.TokenFile,
		log:      logger.New(),
		now:      time.Now,
	}

	access, refresh := loadTokenFile(tm.filePath)
	// An expired token is no better than no token.
	if !tm.expired(access) {
		tm.access = access
	}
	if !tm.expired(refresh) {
		tm.refresh = refresh
	}
	return tm
}

// AccessToken returns the current bearer token, or "" when not logged in.
func (tm *TokenManager) AccessToken() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.access
}

// EnsureLoggedIn makes sure a usable access token exists: it validates a
// cached token against the auth-check endpoint, falls back to the refresh
// grant, then to a full login. Each step is attempted once; there is no
// recursion.
func (tm *TokenManager) EnsureLoggedIn(ctx context.Context) error {
	if tm.AccessToken() != "" && tm.checkAuth(ctx) {
		tm.log.Info("logged in with the cached token")
		return nil
	}

	if err := tm.Reauthenticate(ctx); err != nil {
		return err
	}
	tm.log.Info("logged in")
	return nil
}

// Reauthenticate obtains a fresh access token, preferring the refresh
// grant and falling back to a password-grant login.
func (tm *TokenManager) Reauthenticate(ctx context.Context) error {
	tm.mu.RLock()
	refresh := tm.refresh
	tm.mu.RUnlock()

	if refresh != "" && !tm.expired(refresh) {
		ok, err := tm.refreshGrant(ctx, refresh)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		tm.log.Warn("refresh token rejected, logging in with account details")
	}

	return tm.login(ctx)
}

// checkAuth validates the current token against the auth-check endpoint.
func (tm *TokenManager) checkAuth(ctx context.Context) bool {
	resp, err := tm.client.Do(ctx, Request{
		Method:  http.MethodGet,
		Path:    "/auth/check",
		OKCodes: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
		Tries:   1,
	})
	if err != nil {
		tm.log.Err(err).Warn("auth check failed")
		return false
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var check struct {
		IsAuthenticated bool `json:"isAuthenticated"`
	}
	if err := resp.Decode(&check); err != nil {
		return false
	}
	return check.IsAuthenticated
}

func (tm *TokenManager) login(ctx context.Context) error {
	if tm.creds.Username == "" || tm.creds.Password == "" || tm.creds.ClientID == "" || tm.creds.ClientSecret == "" {
		return errcodes.CredentialsMissing()
	}

	resp, err := tm.client.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   tm.tokenURL,
		Form: url.Values{
			"grant_type":    {"password"},
			"username":      {tm.creds.Username},
			"password":      {tm.creds.Password},
			"client_id":     {tm.creds.ClientID},
			"client_secret": {tm.creds.ClientSecret},
		},
		OKCodes: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
		Tries:   1,
		NoAuth:  true,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		tm.log.Warn("login rejected", logger.Data{"error": resp.ErrorSummary()})
		return errcodes.LoginFailed()
	}

	return tm.rotate(resp)
}

// refreshGrant exchanges the refresh token. A 401/403 means the refresh
// token is no longer good and the caller should log in instead.
func (tm *TokenManager) refreshGrant(ctx context.Context, refresh string) (bool, error) {
	resp, err := tm.client.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   tm.tokenURL,
		Form: url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refresh},
			"client_id":     {tm.creds.ClientID},
			"client_secret": {tm.creds.ClientSecret},
		},
		OKCodes: []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
		Tries:   1,
		NoAuth:  true,
	})
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	return true, tm.rotate(resp)
}

// rotate stores both tokens from a successful grant. The service may
// issue a new refresh token, which replaces the old one.
func (tm *TokenManager) rotate(resp *Response) error {
	var grant tokenGrant
	if err := resp.Decode(&grant); err != nil {
		return err
	}

	tm.mu.Lock()
	tm.access = grant.AccessToken
	tm.refresh = grant.RefreshToken
	tm.mu.Unlock()

	tm.persist()
	return nil
}

func (tm *TokenManager) persist() {
	tm.mu.RLock()
	access, refresh := tm.access, tm.refresh
	tm.mu.RUnlock()

	if err := saveTokenFile(tm.filePath, access, refresh); err != nil {
		tm.log.Err(err).Warn("couldn't save the token file")
	}
}

// expired decodes the token's embedded expiry claim and compares it to the
// current time with no grace period. Undecodable tokens count as expired.
func (tm *TokenManager) expired(token string) bool {
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !exp.After(tm.now())
}

type tokenFile struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// loadTokenFile reads cached tokens. A missing or corrupt file means no
// tokens; it is never an error.
func loadTokenFile(path string) (access, refresh string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", ""
	}
	return tf.Access, tf.Refresh
}

func saveTokenFile(path, access, refresh string) error {
	data, err := json.MarshalIndent(tokenFile{Access: access, Refresh: refresh}, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, data, 0600))
}
