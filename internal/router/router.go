package router

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/access"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/org"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/session"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/httpjson"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/utilities"
)

// DefaultBasePath is where the API is mounted when Options.BasePath is empty.
const DefaultBasePath = "/api/user_management"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

type ctxKeyRequestID struct{}

// RequestIDHeader is read from the request and echoed on the response.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware keeps the caller's X-Request-ID or assigns a new ksuid.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = utilities.NewKSUID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by RequestIDMiddleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// LoggingMiddleware returns a middleware that logs requests using the provided sugared logger.
// Server errors are logged at warn level, everything else at debug.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			log := logger.Debugw
			if status >= http.StatusInternalServerError {
				log = logger.Warnw
			}
			log("http request",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 envelope and logs it with
// the request id and stack. It must run inside LoggingMiddleware so the 500 is
// logged as well.
func RecoverMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Errorw("panic recovered",
					"request_id", RequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				httpjson.Fail(w, http.StatusInternalServerError, "internal error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// the API only serves JSON
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
			}
			// HSTS only over TLS, 30 days
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Options wires the handlers into the router. Logger, Codec, Policy and the
// three handlers are required.
type Options struct {
	Logger   *zap.SugaredLogger
	Codec    *token.Codec
	Policy   *access.Policy
	Orgs     *org.Handler
	Users    *user.Handler
	Sessions *session.Handler

	BasePath    string
	CORSOrigins []string
}

// DefaultCORSOptions returns the CORS policy for the given origins; an empty
// list allows any origin.
func DefaultCORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// New mounts every endpoint under opts.BasePath.
func New(opts Options) http.Handler {
	base := opts.BasePath
	if base == "" {
		base = DefaultBasePath
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(opts.Logger))
	r.Use(RecoverMiddleware(opts.Logger))
	r.Use(SecurityHeadersMiddleware())
	r.Use(cors.Handler(DefaultCORSOptions(opts.CORSOrigins)))

	authn := access.Authenticate(opts.Codec, opts.Logger)
	require := func(obj, act string) func(http.Handler) http.Handler {
		return access.Require(opts.Policy, obj, act)
	}

	r.Route(base, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		// public
		r.Post("/login", opts.Sessions.Login)
		r.Post("/validateJWT", opts.Sessions.Validate)
		r.Post("/register", opts.Users.Register)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Post("/logout", opts.Sessions.Logout)

			r.Get("/layers", opts.Orgs.ListLayers)
			r.With(require(access.ObjectLayer, access.ActionCreate)).Post("/layers", opts.Orgs.CreateLayer)
			r.Get("/groups", opts.Orgs.ListGroups)
			r.With(require(access.ObjectGroup, access.ActionCreate)).Post("/groups", opts.Orgs.CreateGroup)

			r.Get("/user/{user_id}", opts.Users.Get)
			r.Get("/user/{user_id}/supervisor/{layer_id}", opts.Users.ResolveSupervisor)
			r.With(require(access.ObjectUser, access.ActionAssign)).Post("/user/layer/{user_id}", opts.Users.AssignLayer)
			r.With(require(access.ObjectUser, access.ActionAssign)).Post("/user/group/{user_id}", opts.Users.AssignGroup)

			r.Get("/group/{group_id}", opts.Users.ListInGroup)
			r.Get("/groups/supervisor/{layer_id}", opts.Users.ListSupervisors)
			r.Get("/groups/employee/{group_id}/{layer_id}", opts.Users.ListEmployees)
			r.Get("/groups/auditor/{group_id}/{layer_id}/{audit_layer_id}", opts.Users.ListAuditors)
		})
	})
	return r
}
