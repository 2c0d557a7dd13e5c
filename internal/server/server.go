package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/engine"
	"github.com/example/go-style-transfer/internal/geometry"
	"github.com/example/go-style-transfer/internal/imageio"
)

// Engine is the part of *engine.Engine the HTTP surface drives.
type Engine interface {
	SetInput(p codec.Pixels) error
	SetStyle(p codec.Pixels) error
	SetSize(width, height int) error
	Poll() (*engine.Output, bool)
	Recycle(out *engine.Output)
	State() engine.State
	Stats() engine.Stats
	LogicalSize() geometry.Size
	ModelSize() geometry.Size
	OutputSize() geometry.Size
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxUploadBytes int64
	decoders       int
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxUploadBytes: 16 << 20,
		decoders:       2,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxUploadBytes caps the body size of POST /frame and POST /style.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithDecoders sets the maximum number of concurrent image decodes.
// Zero disables the limit.
func WithDecoders(n int) Option {
	return func(o *options) { o.decoders = n }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	eng  Engine
	opts options
	sem  chan struct{}
	log  *slog.Logger
}

// NewHandler returns an http.Handler serving the producer side (POST /frame,
// POST /style, PUT /size) and the consumer side (GET /output, GET /stats) of
// an engine, plus GET /health.
func NewHandler(eng Engine, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		eng:  eng,
		opts: opts,
		log:  opts.logger,
	}
	if opts.decoders > 0 {
		h.sem = make(chan struct{}, opts.decoders)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /frame", h.handleFrame)
	mux.HandleFunc("POST /style", h.handleStyle)
	mux.HandleFunc("PUT /size", h.handleSize)
	mux.HandleFunc("GET /output", h.handleOutput)
	mux.HandleFunc("GET /stats", h.handleStats)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleFrame(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	if err := h.eng.SetInput(p); err != nil {
		h.writeEngineError(w, r, "set input", err)
		return
	}

	h.log.DebugContext(r.Context(), "frame staged",
		slog.Int("width", p.Width),
		slog.Int("height", p.Height),
	)

	writeJSON(w, http.StatusAccepted, map[string]string{"state": h.eng.State().String()})
}

func (h *handler) handleStyle(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	if err := h.eng.SetStyle(p); err != nil {
		h.writeEngineError(w, r, "set style", err)
		return
	}

	h.log.InfoContext(r.Context(), "style updated",
		slog.Int("width", p.Width),
		slog.Int("height", p.Height),
	)

	w.WriteHeader(http.StatusNoContent)
}

type sizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (h *handler) handleSize(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := h.eng.SetSize(req.Width, req.Height); err != nil {
		h.writeEngineError(w, r, "set size", err)
		return
	}

	writeJSON(w, http.StatusOK, h.sizes())
}

// handleOutput returns the latest unread output as PNG, or 204 when none is
// ready. Optional width/height query parameters scale the image.
func (h *handler) handleOutput(w http.ResponseWriter, r *http.Request) {
	scaleW, scaleH, err := parseScale(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, ok := h.eng.Poll()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	defer h.eng.Recycle(out)

	img, err := codec.ToImage(out.Pixels)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pix := out.Pixels
	if scaleW > 0 && scaleH > 0 {
		pix = codec.FromImage(codec.Scale(img, scaleW, scaleH))
	}

	png, err := imageio.EncodePNG(pix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.DebugContext(r.Context(), "output delivered",
		slog.Uint64("seq", out.Seq),
		slog.Int64("inference_ms", out.Duration.Milliseconds()),
		slog.Int("png_bytes", len(png)),
	)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Output-ID", out.ID.String())
	w.Header().Set("X-Output-Seq", strconv.FormatUint(out.Seq, 10))
	w.Header().Set("X-Inference-Ms", strconv.FormatInt(out.Duration.Milliseconds(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// StatsReport is the GET /stats body.
type StatsReport struct {
	State           string      `json:"state"`
	Sizes           SizesReport `json:"sizes"`
	Cycles          uint64      `json:"cycles"`
	Failures        uint64      `json:"failures"`
	InputDrops      uint64      `json:"input_drops"`
	UnreadDrops     uint64      `json:"unread_drops"`
	Discarded       uint64      `json:"discarded"`
	LastInferenceMS int64       `json:"last_inference_ms"`
	LastError       string      `json:"last_error,omitempty"`
}

type SizesReport struct {
	Logical string `json:"logical"`
	Model   string `json:"model"`
	Output  string `json:"output"`
}

func (h *handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := h.eng.Stats()

	resp := StatsReport{
		State:           h.eng.State().String(),
		Sizes:           h.sizes(),
		Cycles:          st.Cycles,
		Failures:        st.Failures,
		InputDrops:      st.InputDrops,
		UnreadDrops:     st.UnreadDrops,
		Discarded:       st.Discarded,
		LastInferenceMS: st.LastInference.Milliseconds(),
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) sizes() SizesReport {
	return SizesReport{
		Logical: h.eng.LogicalSize().String(),
		Model:   h.eng.ModelSize().String(),
		Output:  h.eng.OutputSize().String(),
	}
}

// decodeBody reads an image upload, honouring the upload cap and the decode
// semaphore. It writes the error response itself when it returns false.
func (h *handler) decodeBody(w http.ResponseWriter, r *http.Request) (codec.Pixels, bool) {
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for decoder")
			return codec.Pixels{}, false
		}
		defer func() { <-h.sem }()
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds maximum size of %d bytes", h.opts.maxUploadBytes))
			return codec.Pixels{}, false
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return codec.Pixels{}, false
	}

	p, _, err := imageio.DecodeBytes(body)
	if err != nil {
		status := http.StatusUnsupportedMediaType
		if errors.Is(err, imageio.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return codec.Pixels{}, false
	}

	return p, true
}

func (h *handler) writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, codec.ErrUnsupportedPixelFormat), errors.Is(err, codec.ErrInvalidPixels):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, geometry.ErrInvalidSize):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	h.log.WarnContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	writeError(w, status, err.Error())
}

func parseScale(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	ws, hs := q.Get("width"), q.Get("height")
	if ws == "" && hs == "" {
		return 0, 0, nil
	}

	width, err := strconv.Atoi(ws)
	if err != nil || width < 1 || width > geometry.MaxDimension {
		return 0, 0, fmt.Errorf("invalid width %q", ws)
	}
	height, err := strconv.Atoi(hs)
	if err != nil || height < 1 || height > geometry.MaxDimension {
		return 0, 0, fmt.Errorf("invalid height %q", hs)
	}
	return width, height, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.ServerConfig
	eng             Engine
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.ServerConfig, eng Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := 30 * time.Second
	if cfg.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		eng:             eng,
		logger:          logger,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Start serves until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	handlerOpts := []Option{WithLogger(s.logger)}
	if s.cfg.MaxUploadBytes > 0 {
		handlerOpts = append(handlerOpts, WithMaxUploadBytes(s.cfg.MaxUploadBytes))
	}

	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           NewHandler(s.eng, handlerOpts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// dialAddr turns a listen address such as ":8080" into one a client can dial.
func dialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

// ProbeHTTP checks GET /health on addr.
func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + dialAddr(addr) + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}

// FetchStats reads GET /stats from a running server.
func FetchStats(ctx context.Context, addr string) (StatsReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+dialAddr(addr)+"/stats", nil)
	if err != nil {
		return StatsReport{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return StatsReport{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return StatsReport{}, fmt.Errorf("unexpected stats status: %s", resp.Status)
	}

	var report StatsReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return StatsReport{}, fmt.Errorf("decode stats: %w", err)
	}

	return report, nil
}
