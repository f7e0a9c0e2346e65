package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findCookie returns the named cookie from the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestCreateAccountHandler(t *testing.T) {
	app, _ := newTestApp(t)

	register := func(body any) *httptest.ResponseRecorder {
		buf := &bytes.Buffer{}
		require.NoError(t, json.NewEncoder(buf).Encode(body))
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", buf)
		app.createAccount(rr, req)
		return rr
	}

	t.Run("creates an account", func(t *testing.T) {
		rr := register(RegisterRequest{
			Email:    "newuser@example.com",
			Username: "newuser",
			Password: "password",
		})

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")
		user := decodeBody[types.User](t, rr)
		assert.Equal(t, "newuser", user.Username)
		assert.NotEmpty(t, user.Id, "expected user id assigned")
		assert.NotContains(t, rr.Body.String(), "password", "expected password kept out of the response")
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		rr := register(RegisterRequest{
			Email:    "newuser@example.com",
			Username: "other",
			Password: "password",
		})
		assert.Equal(t, http.StatusConflict, rr.Code, "expected status code to be 409")
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		rr := register(RegisterRequest{Email: "incomplete@example.com"})
		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString("not json"))
		app.createAccount(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})
}

func TestLoginHandler(t *testing.T) {
	app, _ := newTestApp(t)

	rr := httptest.NewRecorder()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(RegisterRequest{
		Email:    "login@example.com",
		Username: "loginuser",
		Password: "password",
	}))
	app.createAccount(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register", buf))
	require.Equal(t, http.StatusCreated, rr.Code)

	login := func(body any) *httptest.ResponseRecorder {
		buf := &bytes.Buffer{}
		require.NoError(t, json.NewEncoder(buf).Encode(body))
		rr := httptest.NewRecorder()
		app.login(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", buf))
		return rr
	}

	t.Run("logs in with valid credentials", func(t *testing.T) {
		rr := login(LoginRequest{Email: "login@example.com", Password: "password"})

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		cookie := findCookie(rr, tokenCookieKey)
		require.NotNil(t, cookie, "expected token cookie to be set")
		assert.True(t, cookie.HttpOnly, "expected cookie to be http-only")

		// The token resolves back to the logged-in user.
		user := decodeBody[types.User](t, rr)
		userId, err := app.extractUserIdFromToken(cookie.Value)
		assert.NoError(t, err, "expected token to verify")
		assert.Equal(t, user.Id, userId, "expected token bound to the user")
	})

	t.Run("rejects a wrong password", func(t *testing.T) {
		rr := login(LoginRequest{Email: "login@example.com", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
		assert.Nil(t, findCookie(rr, tokenCookieKey), "expected no cookie on failed login")
	})

	t.Run("rejects an unknown email", func(t *testing.T) {
		rr := login(LoginRequest{Email: "nobody@example.com", Password: "password"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})
}

func TestLogoutHandler(t *testing.T) {
	app, _ := newTestApp(t)

	rr := httptest.NewRecorder()
	app.logout(rr, httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil))

	assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
	cookie := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cookie, "expected cookie to be cleared")
	assert.Empty(t, cookie.Value, "expected cookie value emptied")
	assert.True(t, cookie.Expires.Unix() <= 0, "expected cookie expired")
}

func TestSessionHandler(t *testing.T) {
	app, repo := newTestApp(t)
	user := createAppUser(t, repo, "sessionuser")

	t.Run("returns the authenticated user", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := authedRequest(t, user.Id, http.MethodGet, "/api/auth/session", nil)
		app.session(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		got := decodeBody[types.User](t, rr)
		assert.Equal(t, user.Id, got.Id)
	})

	t.Run("rejects an unauthenticated request", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.session(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})

	t.Run("unknown user is not found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := authedRequest(t, "missing", http.MethodGet, "/api/auth/session", nil)
		app.session(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})
}

func TestAuthMiddleware(t *testing.T) {
	app, repo := newTestApp(t)
	user := createAppUser(t, repo, "mwuser")

	var gotUserId string
	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotUserId, _ = UserId(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("passes a valid token through", func(t *testing.T) {
		token, err := app.generateToken(user.Id)
		require.NoError(t, err, "expected no error generating token")

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		handler(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		assert.Equal(t, user.Id, gotUserId, "expected user id attached to the context")
	})

	t.Run("rejects a missing cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "garbage"})
		handler(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})
}
