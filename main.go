package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

//go:embed schema.sql
var schema string

type app struct {
	store        *store
	validate     *validator.Validate
	logger       *zap.Logger
	solveTimeout time.Duration
	chartFont    string
}

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, key := range []string{"PGCONN", "CLIENT_ID", "CLIENT_SECRET", "ADMINS"} {
		if os.Getenv(key) == "" {
			logger.Fatal("environment variable is required", zap.String("key", key))
		}
	}

	db, err := sqlx.Connect("postgres", os.Getenv("PGCONN"))
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	if _, err := db.Exec(schema); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	solveTimeout := time.Minute
	if v := os.Getenv("SOLVE_TIMEOUT"); v != "" {
		if solveTimeout, err = time.ParseDuration(v); err != nil {
			logger.Fatal("invalid SOLVE_TIMEOUT", zap.String("value", v), zap.Error(err))
		}
	}

	a := &app{
		store:        &store{db: db},
		validate:     validator.New(),
		logger:       logger,
		solveTimeout: solveTimeout,
		chartFont:    os.Getenv("CHART_FONT"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/google/callback", handleGoogleCallback(a))
	mux.HandleFunc("GET /api/classrooms", handleListClassrooms(a))
	mux.HandleFunc("POST /api/classrooms", handleCreateClassroom(a))
	mux.HandleFunc("GET /api/classrooms/{classroomID}", handleGetClassroom(a))
	mux.HandleFunc("PATCH /api/classrooms/{classroomID}", handleUpdateClassroom(a))
	mux.HandleFunc("DELETE /api/classrooms/{classroomID}", handleDeleteClassroom(a))
	mux.HandleFunc("GET /api/classrooms/{classroomID}/layout", handleGetLayout(a))
	mux.HandleFunc("PUT /api/classrooms/{classroomID}/layout", handlePutLayout(a))
	mux.HandleFunc("GET /api/classrooms/{classroomID}/layouts", handleListLayouts(a))
	mux.HandleFunc("POST /api/classrooms/{classroomID}/solve", handleSolve(a))
	mux.HandleFunc("GET /classrooms/{classroomID}/chart", handleChart(a))
	mux.HandleFunc("GET /classrooms/{classroomID}/chart.pdf", handleChartPDF(a))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	addr := os.Getenv("LISTEN")
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, logRequests(logger, mux)); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("DEBUG") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func handleGoogleCallback(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := r.FormValue("credential")
		if credential == "" {
			http.Error(w, "missing credential", http.StatusBadRequest)
			return
		}

		payload, err := idtoken.Validate(r.Context(), credential, os.Getenv("CLIENT_ID"))
		if err != nil {
			a.logger.Warn("failed to validate token", zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		email, _ := payload.Claims["email"].(string)
		if email == "" {
			http.Error(w, "token has no email", http.StatusUnauthorized)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"email":   email,
			"name":    payload.Claims["name"],
			"picture": payload.Claims["picture"],
			"token":   signEmail(email),
			"admin":   isAdmin(email),
		})
	}
}

func signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(os.Getenv("CLIENT_SECRET")))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		// Printable charts are opened as plain links.
		token = r.URL.Query().Get("token")
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if !hmac.Equal([]byte(signEmail(email)), []byte(token)) {
		return "", false
	}
	return email, true
}

func isAdmin(email string) bool {
	return slices.ContainsFunc(strings.Split(os.Getenv("ADMINS"), ","), func(a string) bool {
		return strings.TrimSpace(a) == email
	})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return email, true
}

// requireClassroom authorizes the caller and loads the classroom named in
// the path. Only its owner and global admins may access it.
func requireClassroom(a *app, w http.ResponseWriter, r *http.Request) (string, classroom, bool) {
	email, ok := requireUser(w, r)
	if !ok {
		return "", classroom{}, false
	}
	id, ok := pathID(w, r, "classroomID")
	if !ok {
		return "", classroom{}, false
	}
	c, err := a.store.classroom(r.Context(), id)
	if err != nil {
		writeStoreError(a, w, err)
		return "", classroom{}, false
	}
	if c.Owner != email && !isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", classroom{}, false
	}
	return email, c, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func solveContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
