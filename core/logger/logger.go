package logger

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type contextLoggerValues struct {
	RequestID string `json:"requestID"`
	Identity  string `json:"identity"`
}

// Type for the context keys
type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	identityLoggerKey  string = "identity"
	appLoggerKey       string = "app"
	typeLoggerKey      string = "type"

	// RequestIDHeader is honoured as request ID when set by an upstream proxy
	RequestIDHeader = "X-Request-Id"
)

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// ParseLevel returns the logrus level for s, falling back to info for unknown levels
func ParseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		Default().Warnf("unknown log level '%s', using info", s)
		return logrus.InfoLevel
	}
	return level
}

// AddRequestID adds a logger with a request ID if no logger exits yet for the context.
// The request ID is taken from the X-Request-Id header when present, otherwise a new one
// is generated. The ID is echoed in the response header.
func AddRequestID(router *mux.Router) {
	router.Use(RequestIDMiddleware)
}

// RequestIDMiddleware is the middleware installed by AddRequestID
func RequestIDMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if loggerFromContext(ctx) == nil {
			if id := r.Header.Get(RequestIDHeader); id != "" {
				ctx = context.WithValue(ctx, contextKeyRequestLogger, logrus.WithField(requestIDLoggerKey, id))
			}
		}
		ctx, _ = ContextWithLogger(ctx)
		w.Header().Set(RequestIDHeader, RequestIDFromContext(ctx))
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a new context with a logger if the given context has no logger yet. If
// the context already has a logger the given context will be returned.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	rlog := logrus.WithField(requestIDLoggerKey, uuid.NewString())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the logger from the context. If the context does not have a logger
// a new logger is returned. If the provided context is nil, the default logger will be
// returned.
func FromContext(ctx context.Context) *logrus.Entry {
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return Default()
	}
	return rlog
}

// ContextWithLoggerIdentity returns a new context with a logger and identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(identityLoggerKey, identity)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// WithResource returns a new context whose logger carries the app and the resource type
func WithResource(ctx context.Context, appID int64, resourceType string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithFields(logrus.Fields{appLoggerKey: appID, typeLoggerKey: resourceType})
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// SerializeLoggerContext extracts the logger from the context and returns a json
// representation of the relevant parameters. Asynchronous workers use it to continue
// logging with the request ID of the request that scheduled them.
func SerializeLoggerContext(ctx context.Context) []byte {
	ctxValues := loggerValues(ctx)
	if ctxValues.RequestID == "" {
		return []byte("{}")
	}
	res, err := json.Marshal(ctxValues)
	if err != nil {
		return []byte("{}")
	}
	return res
}

// ContextWithLoggerFromData returns a context with a logger constructed from data
// produced by SerializeLoggerContext. A fresh logger is used for invalid data.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if loggerFromContext(ctx) != nil {
		return ctx
	}
	var ctxValues contextLoggerValues
	if err := json.Unmarshal(data, &ctxValues); err != nil || ctxValues.RequestID == "" {
		ctx, _ = ContextWithLogger(ctx)
		return ctx
	}
	rlog := logrus.WithField(requestIDLoggerKey, ctxValues.RequestID)
	if ctxValues.Identity != "" {
		rlog = rlog.WithField(identityLoggerKey, ctxValues.Identity)
	}
	return context.WithValue(ctx, contextKeyRequestLogger, rlog)
}

// RequestIDFromContext returns the request id for the given context.
func RequestIDFromContext(ctx context.Context) string {
	return loggerValues(ctx).RequestID
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var ctxValues contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return ctxValues
	}
	if s, ok := rlog.Data[requestIDLoggerKey].(string); ok {
		ctxValues.RequestID = s
	}
	if s, ok := rlog.Data[identityLoggerKey].(string); ok {
		ctxValues.Identity = s
	}
	return ctxValues
}
