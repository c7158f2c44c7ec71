// Package portal serves the provisioning web interface: network scan,
// credential submission, device status and the captive portal probes.
package portal

import (
	"bytes"
	"context"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/credentials"
	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/history"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/metrics"
	"codeberg.org/mutker/wifiprovd/internal/scan"
	"codeberg.org/mutker/wifiprovd/internal/wifi"
	"github.com/gorilla/schema"
)

const (
	// Upper bound on any rendered page. Inputs are bounded (20 networks,
	// 32 byte names) so real pages stay far below it.
	maxPageSize = 32 << 10

	defaultHistoryLimit = 10
	readHeaderTimeout   = 5 * time.Second
	shutdownTimeout     = 3 * time.Second
)

// CaptivePaths are the connectivity probes of common client operating
// systems. Each one is redirected to the portal root.
var CaptivePaths = []string{
	"/generate_204",
	"/gen_204",
	"/hotspot-detect.html",
	"/ncsi.txt",
	"/connecttest.txt",
	"/redirect",
}

type Scanner interface {
	Scan(ctx context.Context, force bool) scan.Result
}

type CredentialStore interface {
	Save(ctx context.Context, ssid, password string) error
	Load(ctx context.Context) (credentials.Credentials, error)
}

type StatusSource interface {
	Snapshot() wifi.Status
}

type Device interface {
	HardwareAddr() net.HardwareAddr
}

type HistorySource interface {
	Recent(ctx context.Context, n int) ([]history.Entry, error)
}

// Restarter applies newly saved credentials by restarting the daemon.
type Restarter interface {
	Schedule(delay time.Duration)
}

type Deps struct {
	Scanner     Scanner
	Credentials CredentialStore
	Status      StatusSource
	Device      Device
	Restarter   Restarter
	History     HistorySource
	Metrics     metrics.Collector
}

type Config struct {
	// Addr is the listen address, e.g. ":80".
	Addr         string
	APAddress    net.IP
	RestartDelay time.Duration
	HistoryLimit int
}

type Server struct {
	cfg     Config
	deps    Deps
	pages   map[string]*template.Template
	decoder *schema.Decoder
	handler http.Handler
	logger  logger.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

type connectRequest struct {
	SSID     string `schema:"ssid"`
	Password string `schema:"password"`
}

type scanRequest struct {
	Rescan string `schema:"rescan"`
}

func New(cfg Config, deps Deps, log logger.Logger) (*Server, error) {
	errFactory := errors.New()

	if cfg.APAddress.To4() == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "AP address must be IPv4")
	}
	if deps.Scanner == nil || deps.Credentials == nil || deps.Status == nil || deps.Restarter == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "portal dependencies missing")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		pages:   parsePages(),
		decoder: decoder,
		logger:  log,
	}
	s.handler = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /scan", s.handleScan)
	mux.HandleFunc("GET /connect", s.handleConnect)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	redirect := s.captiveRedirect()
	for _, p := range CaptivePaths {
		mux.HandleFunc(p, redirect)
	}

	mux.HandleFunc("/", notFound)

	return mux
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background. Starting a running
// server is a no-op.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.New().Wrap(ErrListen, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	done := make(chan struct{})

	s.srv, s.listener, s.done = srv, ln, done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Portal server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Portal server started")

	return nil
}

// Shutdown stops a running server. It is a no-op when not running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	<-done

	s.logger.Info().Msg("Portal server stopped")

	return err
}

// Addr returns the bound address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "root", nil)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if values, err := url.ParseQuery(r.URL.RawQuery); err == nil {
		if err := s.decoder.Decode(&req, values); err != nil {
			s.logger.Debug().Err(err).Msg("Ignoring malformed scan query")
		}
	}

	res := s.deps.Scanner.Scan(r.Context(), req.Rescan != "")

	switch res.Outcome {
	case scan.InProgress:
		s.render(w, http.StatusOK, "scanning", nil)
	case scan.Failed:
		s.render(w, http.StatusOK, "scan_failed", nil)
	case scan.Empty:
		s.render(w, http.StatusOK, "no_networks", nil)
	default:
		if len(res.Networks) == 0 {
			s.render(w, http.StatusOK, "no_networks", nil)
			return
		}
		s.render(w, http.StatusOK, "networks", struct {
			Networks    any
			MaxSSID     int
			MaxPassword int
		}{res.Networks, credentials.MaxSSIDLen, credentials.MaxPasswordLen})
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeConnect(r.URL.RawQuery)
	if err != nil {
		s.deps.Metrics.CredentialsSubmitted(metrics.SubmitRejected)
		s.logger.Warn().Err(err).Msg("Rejected credential submission")
		s.render(w, http.StatusBadRequest, "try_again", struct{ Message string }{
			"The network name must be 1 to 32 bytes and the password at most 64 bytes.",
		})
		return
	}

	if err := s.deps.Credentials.Save(r.Context(), req.SSID, req.Password); err != nil {
		s.deps.Metrics.CredentialsSubmitted(metrics.SubmitFailed)
		s.logger.Error().Err(err).Str("ssid", req.SSID).Msg("Failed to save WiFi credentials")
		s.render(w, http.StatusInternalServerError, "try_again", struct{ Message string }{
			"The credentials could not be stored. Please try again.",
		})
		return
	}

	s.deps.Metrics.CredentialsSubmitted(metrics.SubmitSaved)
	s.logger.Info().
		Str("ssid", req.SSID).
		Int("password_len", len(req.Password)).
		Msg("Credentials received, scheduling restart")

	s.render(w, http.StatusOK, "connecting", struct {
		SSID           string
		RestartSeconds int
	}{req.SSID, restartSeconds(s.cfg.RestartDelay)})

	s.deps.Restarter.Schedule(s.cfg.RestartDelay)
}

// decodeConnect percent-decodes the query (with '+' as space) and checks
// the decoded lengths. Oversized values are rejected, never truncated.
func (s *Server) decodeConnect(rawQuery string) (connectRequest, error) {
	errFactory := errors.New()

	var req connectRequest

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return req, errFactory.Wrap(ErrBadRequest, err)
	}
	if err := s.decoder.Decode(&req, values); err != nil {
		return req, errFactory.Wrap(ErrBadRequest, err)
	}

	creds := credentials.Credentials{SSID: req.SSID, Password: req.Password}
	if err := creds.Validate(); err != nil {
		return req, errFactory.Wrap(ErrBadRequest, err)
	}

	return req, nil
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Status.Snapshot()

	saved := "None"
	if creds, err := s.deps.Credentials.Load(r.Context()); err == nil && creds.Present() {
		saved = creds.SSID
	}

	ip := status.Addr
	if status.APActive || ip == nil {
		ip = s.cfg.APAddress
	}

	mac := "unknown"
	if s.deps.Device != nil {
		if hw := s.deps.Device.HardwareAddr(); len(hw) > 0 {
			mac = hw.String()
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var recent []history.Entry
	if s.deps.History != nil {
		entries, err := s.deps.History.Recent(r.Context(), s.cfg.HistoryLimit)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read connection history")
		}
		recent = entries
	}

	s.render(w, http.StatusOK, "info", struct {
		MAC       string
		IP        string
		State     string
		Retry     int
		Uptime    string
		HeapInUse uint64
		SavedSSID string
		History   []history.Entry
	}{
		MAC:       mac,
		IP:        ip.String(),
		State:     status.State.String(),
		Retry:     status.Retry,
		Uptime:    wifi.FormatUptime(status.Uptime(time.Now())),
		HeapInUse: mem.HeapInuse,
		SavedSSID: saved,
		History:   recent,
	})
}

func (s *Server) captiveRedirect() http.HandlerFunc {
	target := "http://" + s.cfg.APAddress.String() + "/"

	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("404 Not Found"))
}

// render executes the page into a buffer first so a template failure turns
// into a clean 500 instead of a half written page.
func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	errFactory := errors.New()

	var buf bytes.Buffer
	tmpl, ok := s.pages[page]
	if !ok {
		s.renderFailed(w, errFactory.WithData(ErrRender, page))
		return
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		s.renderFailed(w, errFactory.Wrap(ErrRender, err))
		return
	}
	if buf.Len() > maxPageSize {
		s.renderFailed(w, errFactory.WithData(ErrRender, struct {
			Page string
			Size int
		}{page, buf.Len()}))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (s *Server) renderFailed(w http.ResponseWriter, err errors.Error) {
	s.logger.ErrorWithCode(err).Msg("Failed to render page")
	http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
}

func restartSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
