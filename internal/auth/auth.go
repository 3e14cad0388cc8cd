package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iurnickita/creditmart/internal/store"
	"github.com/iurnickita/creditmart/internal/token"
)

type Auth interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

type ctxKey string

const (
	userCodeKey     ctxKey = "userCode"
	CookieUserToken        = "creditmartUserToken"
)

// UserCode - код пользователя, записанный в контекст запроса middleware
func UserCode(ctx context.Context) string {
	userCode, _ := ctx.Value(userCodeKey).(string)
	return userCode
}

// WithUserCode записывает код пользователя в контекст
func WithUserCode(ctx context.Context, userCode string) context.Context {
	return context.WithValue(ctx, userCodeKey, userCode)
}

type Credentials struct {
	Login    string `json:"login" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type auth struct {
	store    store.Store
	token    *token.Token
	validate *validator.Validate
	zaplog   *zap.Logger
}

func NewAuth(store store.Store, token *token.Token, zaplog *zap.Logger) Auth {
	return &auth{
		store:    store,
		token:    token,
		validate: validator.New(),
		zaplog:   zaplog,
	}
}

func (a *auth) Register(w http.ResponseWriter, r *http.Request) {
	credentials, err := a.readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(credentials.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode, err := a.store.AuthRegister(r.Context(), credentials.Login, string(hash))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			a.internalError(w, err)
		}
		return
	}

	a.setToken(w, userCode)
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	credentials, err := a.readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode, hash, err := a.store.AuthLogin(r.Context(), credentials.Login)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoRows):
			http.Error(w, "wrong login or password", http.StatusUnauthorized)
		default:
			a.internalError(w, err)
		}
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(credentials.Password)) != nil {
		http.Error(w, "wrong login or password", http.StatusUnauthorized)
		return
	}

	a.setToken(w, userCode)
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение id пользователя
		userCode, err := a.getUserCode(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// передаём управление хендлеру, код пользователя - в контексте
		h.ServeHTTP(w, r.WithContext(WithUserCode(r.Context(), userCode)))
	}
}

func (a *auth) readCredentials(r *http.Request) (Credentials, error) {
	var credentials Credentials
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		return Credentials{}, err
	}
	if err := a.validate.Struct(credentials); err != nil {
		return Credentials{}, err
	}
	return credentials, nil
}

func (a *auth) setToken(w http.ResponseWriter, userCode string) {
	tokenString, err := a.token.BuildJWTString(userCode)
	if err != nil {
		a.internalError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieUserToken,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
	})
	w.Header().Set("Authorization", "Bearer "+tokenString)
	w.WriteHeader(http.StatusOK)
}

func (a *auth) getUserCode(r *http.Request) (string, error) {
	// куки пользователя
	tokenCookie, err := r.Cookie(CookieUserToken)
	if err != nil {
		return "", err
	}
	return a.token.GetUserCode(tokenCookie.Value)
}

// internalError пишет подробности в лог, клиент получает только статус
func (a *auth) internalError(w http.ResponseWriter, err error) {
	a.zaplog.Error("auth request failed", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
