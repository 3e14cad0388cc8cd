package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iurnickita/creditmart/internal/store"
	"github.com/iurnickita/creditmart/internal/token"
	"github.com/iurnickita/creditmart/internal/token/config"
)

func newTestAuth() Auth {
	return NewAuth(store.NewMemStore(), token.NewToken(config.Config{SecretKey: "secret", TTL: time.Hour}), zap.NewNop())
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func TestRegisterLogin(t *testing.T) {
	a := newTestAuth()

	w := post(a.Register, `{"login":"alice","password":"pass"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Result().Cookies())

	w = post(a.Register, `{"login":"alice","password":"other"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = post(a.Register, `{"login":"","password":"pass"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(a.Login, `{"login":"alice","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(a.Login, `{"login":"bob","password":"pass"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(a.Login, `{"login":"alice","password":"pass"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	// middleware пропускает с токеном и кладет код пользователя в контекст
	var userCode string
	h := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		userCode = UserCode(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", userCode)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

type brokenStore struct {
	store.Store
}

var errDriver = errors.New(`pq: relation "auth" does not exist`)

func (brokenStore) AuthRegister(context.Context, string, string) (string, error) {
	return "", errDriver
}

func (brokenStore) AuthLogin(context.Context, string) (string, string, error) {
	return "", "", errDriver
}

// Текст ошибки хранилища остается в логе и не уходит клиенту
func TestInternalErrorHidden(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	a := NewAuth(brokenStore{}, token.NewToken(config.Config{SecretKey: "secret", TTL: time.Hour}), zap.New(core))

	for _, h := range []http.HandlerFunc{a.Register, a.Login} {
		w := post(h, `{"login":"alice","password":"pass"}`)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.NotContains(t, w.Body.String(), "relation")
		require.Contains(t, w.Body.String(), http.StatusText(http.StatusInternalServerError))
	}

	require.Equal(t, 2, logs.Len())
	require.Equal(t, errDriver.Error(), logs.All()[0].ContextMap()["error"])
}
