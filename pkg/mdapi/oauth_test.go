package mdapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdxtools/mdup/pkg/config"
	"github.com/mdxtools/mdup/pkg/errcodes"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestExpired(t *testing.T) {
	tm := &TokenManager{now: time.Now}

	assert.True(t, tm.expired(""))
	assert.True(t, tm.expired("not-a-jwt"))
	assert.True(t, tm.expired(signedToken(t, time.Now().Add(-time.Minute))))
	assert.False(t, tm.expired(signedToken(t, time.Now().Add(time.Hour))))
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mdauth")

	require.NoError(t, saveTokenFile(path, "access-token", "refresh-token"))

	access, refresh := loadTokenFile(path)
	assert.Equal(t, "access-token", access)
	assert.Equal(t, "refresh-token", refresh)
}

func TestLoadTokenFileMissingOrCorrupt(t *testing.T) {
	access, refresh := loadTokenFile(filepath.Join(t.TempDir(), "nope"))
	assert.Empty(t, access)
	assert.Empty(t, refresh)

	path := filepath.Join(t.TempDir(), ".mdauth")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	access, refresh = loadTokenFile(path)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestNewTokenManagerDiscardsExpiredTokens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mdauth")
	require.NoError(t, saveTokenFile(path,
		signedToken(t, time.Now().Add(-time.Minute)),
		signedToken(t, time.Now().Add(time.Hour)),
	))

	cfg := &config.Config{}
	cfg.Paths.TokenFile = path

	tm := newTokenManager(nil, cfg)
	assert.Empty(t, tm.access)
	assert.NotEmpty(t, tm.refresh)
}

func TestLoginMissingCredentials(t *testing.T) {
	tm := &TokenManager{now: time.Now}
	err := tm.login(context.Background())
	assert.ErrorIs(t, err, errcodes.CredentialsMissing())
}

func TestLoginPasswordGrant(t *testing.T) {
	access := signedToken(t, time.Now().Add(time.Hour))
	refresh := signedToken(t, time.Now().Add(24*time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/token", r.URL.Path)
		assert.Equal(t, "password", r.FormValue("grant_type"))
		assert.Equal(t, "user", r.FormValue("username"))
		assert.Equal(t, "client-id", r.FormValue("client_id"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"access_token":"` + access + `","refresh_token":"` + refresh + `"}`))
	}))
	defer srv.Close()

	tm := testTokenManager(t, srv.URL)
	require.NoError(t, tm.login(context.Background()))
	assert.Equal(t, access, tm.AccessToken())

	// Both tokens should have been persisted.
	savedAccess, savedRefresh := loadTokenFile(tm.filePath)
	assert.Equal(t, access, savedAccess)
	assert.Equal(t, refresh, savedRefresh)
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"status":401,"title":"invalid_grant"}]}`))
	}))
	defer srv.Close()

	tm := testTokenManager(t, srv.URL)
	err := tm.login(context.Background())
	assert.ErrorIs(t, err, errcodes.LoginFailed())
}

func TestReauthenticateFallsBackToLogin(t *testing.T) {
	access := signedToken(t, time.Now().Add(time.Hour))
	var grants []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grant := r.FormValue("grant_type")
		grants = append(grants, grant)
		if grant == "refresh_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"` + access + `","refresh_token":""}`))
	}))
	defer srv.Close()

	tm := testTokenManager(t, srv.URL)
	tm.refresh = signedToken(t, time.Now().Add(time.Hour))

	require.NoError(t, tm.Reauthenticate(context.Background()))
	assert.Equal(t, []string{"refresh_token", "password"}, grants)
	assert.Equal(t, access, tm.AccessToken())
}

func testTokenManager(t *testing.T, serverURL string) *TokenManager {
	t.Helper()
	tm := &TokenManager{
		client:   testClient(serverURL),
		tokenURL: serverURL + "/token",
		filePath: filepath.Join(t.TempDir(), ".mdauth"),
		log:      logger.New(),
		creds: config.Credentials{
			Username:     "user",
			Password:     "pass",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		},
		now: time.Now,
	}
	tm.client.tokens = tm
	return tm
}
