package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"habitbot/internal/habit"
	"habitbot/internal/reminder"
	logx "habitbot/pkg/logx"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Store is the read side of storage the API exposes.
type Store interface {
	ListUsers(ctx context.Context) ([]habit.User, error)
	ListHabitsForUser(ctx context.Context, userID int64) ([]habit.Habit, error)
	DoneHabitIDsForToday(ctx context.Context) (map[int64]struct{}, error)
}

type Deps struct {
	Store  Store
	Runner reminder.Runner
	// Status is optional; nil hides /status.
	Status func() any
	Log    logx.Logger
}

type Options struct {
	// Token, when set, is required as a bearer token on every route but /health.
	Token       string
	CORSOrigins []string
	Pprof       bool
}

func NewRouter(d Deps, opt Options) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handlers{store: d.Store, runner: d.Runner, status: d.Status, log: d.Log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if len(opt.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opt.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(opt.Token))
		r.Use(requestLog(d.Log))

		r.Post("/reminders/check", h.check)
		if h.status != nil {
			r.Get("/status", h.getStatus)
		}
		r.Get("/users", h.users)
		r.Get("/users/{id}/habits", h.userHabits)
		if opt.Pprof {
			r.Mount("/debug", chimw.Profiler())
		}
	})
	return r
}

func requireToken(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			fields := []logx.Field{
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.String("req_id", chimw.GetReqID(r.Context())),
			}
			if ww.Status() >= 500 {
				log.Warn("http request", fields...)
			} else {
				log.Debug("http request", fields...)
			}
		})
	}
}
