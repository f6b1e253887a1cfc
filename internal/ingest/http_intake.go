package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPIntakeOptions controls the HTTP intake server behavior.
type HTTPIntakeOptions struct {
	// Bind address, e.g. "127.0.0.1:8090"
	Bind string
	// Token for Authorization: Bearer <token> header. Empty disables auth.
	Token string
	// Dir to write accepted text into (watched by the folder ingestor)
	Dir string
	// RPS is max requests per second. 0 disables rate limiting.
	RPS int
	// Burst is the token bucket size. If 0 and RPS>0, defaults to RPS.
	Burst int
	// MaxBodyBytes caps request body size; defaults to 10 MiB.
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// HTTPIntakeServer provides POST /ingest for plain text, written atomically
// to Dir as *.txt files.
type HTTPIntakeServer struct {
	srv     *http.Server
	opts    HTTPIntakeOptions
	limiter *rate.Limiter
	logger  *zap.Logger
	started int32
}

// NewHTTPIntakeServer constructs a new HTTP intake server.
func NewHTTPIntakeServer(opts HTTPIntakeOptions) (*HTTPIntakeServer, error) {
	if opts.Bind == "" {
		opts.Bind = "127.0.0.1:8090"
	}
	if opts.Dir == "" {
		return nil, errors.New("intake dir is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 * 1024 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create intake dir: %w", err)
	}

	h := &HTTPIntakeServer{
		opts:   opts,
		logger: opts.Logger.Named("intake"),
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = opts.RPS
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", h.handleIngest)

	h.srv = &http.Server{
		Addr:         opts.Bind,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h, nil
}

// Handler exposes the intake routes, mainly for tests.
func (h *HTTPIntakeServer) Handler() http.Handler { return h.srv.Handler }

// Start starts the HTTP server concurrently and attaches to ctx for shutdown.
func (h *HTTPIntakeServer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&h.started, 0, 1) {
		return errors.New("http intake server already started")
	}
	ln, err := net.Listen("tcp", h.opts.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.opts.Bind, err)
	}
	h.logger.Info("http intake listening",
		zap.String("addr", "http://"+h.opts.Bind),
		zap.String("dir", h.opts.Dir),
		zap.Bool("auth", h.opts.Token != ""))

	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()
	return nil
}

// handleIngest accepts POST /ingest with a UTF-8 text body
func (h *HTTPIntakeServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.opts.Token != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) != h.opts.Token {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ioc-console"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if h.limiter != nil && !h.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	if !utf8.Valid(body) {
		http.Error(w, "body is not UTF-8 text", http.StatusBadRequest)
		return
	}

	ack := uuid.New().String()
	name, err := h.commit(ack, body)
	if err != nil {
		h.logger.Error("failed to store intake", zap.Error(err))
		http.Error(w, "failed to store text", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, `{"ack":%q}`, ack)

	h.logger.Info("accepted",
		zap.String("ack", ack),
		zap.Int("bytes", len(body)),
		zap.String("file", name),
		zap.String("remote", remoteIP(r.RemoteAddr)),
		zap.Duration("took", time.Since(start)))
}

// commit writes body to a temp file and renames it into place so the folder
// watcher never sees a partial file.
func (h *HTTPIntakeServer) commit(ack string, body []byte) (string, error) {
	finalName := fmt.Sprintf("%s-%s.txt", time.Now().UTC().Format("20060102T150405Z"), ack)
	tmp, err := os.CreateTemp(h.opts.Dir, "."+finalName+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, filepath.Join(h.opts.Dir, finalName)); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return finalName, nil
}

// remoteIP extracts ip from host:port
func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
