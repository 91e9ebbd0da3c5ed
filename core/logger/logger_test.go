package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestAddRequestID(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)
	var seen string
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "upstream-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, "upstream-id", seen)
}

func TestSerializeLoggerContext(t *testing.T) {
	ctx, _ := ContextWithLoggerIdentity(context.Background(), "jane")
	data := SerializeLoggerContext(ctx)

	restored := ContextWithLoggerFromData(context.Background(), data)
	assert.Equal(t, RequestIDFromContext(ctx), RequestIDFromContext(restored))
	assert.Equal(t, "jane", loggerValues(restored).Identity)

	fresh := ContextWithLoggerFromData(context.Background(), []byte("{}"))
	assert.NotEmpty(t, RequestIDFromContext(fresh))
	assert.NotEqual(t, RequestIDFromContext(ctx), RequestIDFromContext(fresh))
}

func TestWithResource(t *testing.T) {
	ctx, rlog := WithResource(context.Background(), 7, "note")
	assert.Equal(t, int64(7), rlog.Data["app"])
	assert.Equal(t, "note", rlog.Data["type"])
	assert.Equal(t, rlog, FromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("chatty"))
}
