package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iurnickita/creditmart/internal/logger/config"
)

func TestNewZapLog(t *testing.T) {
	zl, err := NewZapLog(config.Config{LogLevel: "debug"})
	require.NoError(t, err)
	require.NotNil(t, zl)

	_, err = NewZapLog(config.Config{LogLevel: "loud"})
	require.Error(t, err)
}

func TestRequestLogMdlw(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	h := RequestLogMdlw(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}, zap.New(core))

	r := httptest.NewRequest(http.MethodPost, "/api/listings", nil)
	w := httptest.NewRecorder()
	h(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	requestID := w.Header().Get(HeaderRequestID)
	require.NotEmpty(t, requestID)

	entries := logs.All()
	require.Len(t, entries, 2)
	response := entries[1].ContextMap()
	require.Equal(t, requestID, response["request_id"])
	require.Equal(t, int64(http.StatusCreated), response["code"])
	require.Equal(t, `{"id":1}`, response["body"])
}
