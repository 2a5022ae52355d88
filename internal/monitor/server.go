// Package monitor exposes the capture client over HTTP: session control,
// export, image capture, image quality checks, Prometheus metrics and a websocket live
// stream of display frames and status events.
package monitor

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/export"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
	"codeberg.org/mutker/ecgcapture/internal/quality"
	"codeberg.org/mutker/ecgcapture/internal/store"
)

const (
	maxImageBody  = store.MaxImageSize
	shutdownGrace = 5 * time.Second
)

// Deps wires a Server. Frames, Exporter and Assessor are optional; the
// matching routes answer 503 without them.
type Deps struct {
	Session  Session
	Frames   FrameSource
	Exporter Exporter
	Assessor Assessor
	Metrics  metrics.Collector
	Hub      *Hub
}

type Server struct {
	cfg      Config
	d        Deps
	logger   logger.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	// base parents sessions started over HTTP; request contexts end with
	// the response.
	base context.Context
}

func New(cfg Config, d Deps, log logger.Logger) (*Server, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Session == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "session is required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Noop()
	}
	if d.Hub == nil {
		d.Hub = NewHub(cfg, log)
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		d:      d,
		logger: log,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		base: context.Background(),
	}
	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), s.accessLog())

	s.engine.GET("/ws/live", s.handleLive)
	s.engine.GET("/metrics", gin.WrapH(s.d.Metrics.Handler()))

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/session/start", s.handleStart)
	api.POST("/session/stop", s.handleStop)
	api.POST("/export", s.handleExport)
	api.POST("/capture", s.handleCapture)
	api.POST("/quality", s.handleQuality)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the live stream hub.
func (s *Server) Hub() *Hub {
	return s.d.Hub
}

// Run serves until ctx is cancelled, forwarding session events to live
// clients.
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()

	s.base = ctx

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errFactory.Wrap(ErrServe, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	events, unsubscribe := s.d.Session.Subscribe(32)
	defer unsubscribe()
	go s.forwardEvents(ctx, events)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	s.logger.Info().Str("listen", ln.Addr().String()).Msg("Monitor server listening")

	select {
	case err := <-serveErr:
		s.d.Hub.Close()
		return errFactory.Wrap(ErrServe, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	s.d.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	s.logger.Info().Msg("Monitor server stopped")
	return nil
}

func (s *Server) forwardEvents(ctx context.Context, events <-chan acquisition.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.d.Hub.Broadcast(Message{Type: "status", At: ev.At, Data: statusData(ev)})
		}
	}
}

func (s *Server) handleLive(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	var first *Message
	if s.d.Frames != nil {
		if f := s.d.Frames.Latest(); f.Seq > 0 {
			first = &Message{Type: "frame", At: f.At, Data: frameData(f)}
		}
	}

	s.d.Hub.serve(conn, first)
}

type statusResponse struct {
	State       string  `json:"state"`
	SessionID   string  `json:"sessionId,omitempty"`
	Elapsed     float64 `json:"elapsed"`
	MaxDuration float64 `json:"maxDuration"`
	Exporting   bool    `json:"exporting"`
	LiveClients int     `json:"liveClients"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{
		State:       s.d.Session.State().String(),
		SessionID:   s.d.Session.SessionID(),
		Elapsed:     s.d.Session.Elapsed().Seconds(),
		MaxDuration: s.d.Session.MaxDuration().Seconds(),
		LiveClients: s.d.Hub.Clients(),
	}
	if s.d.Exporter != nil {
		resp.Exporting = s.d.Exporter.Running()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.d.Session.Start(s.base); err != nil {
		s.fail(c, statusFor(err), err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":     s.d.Session.State().String(),
		"sessionId": s.d.Session.SessionID(),
	})
}

func (s *Server) handleStop(c *gin.Context) {
	s.d.Session.Stop()
	c.JSON(http.StatusOK, gin.H{"state": s.d.Session.State().String()})
}

type exportRequest struct {
	PatientID string `json:"patientId" binding:"required"`
}

type exportResponse struct {
	Outcome    export.Outcome `json:"outcome"`
	CaseID     string         `json:"caseId,omitempty"`
	Message    string         `json:"message"`
	ErrorCode  string         `json:"errorCode,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Quality    any            `json:"quality,omitempty"`
	Prediction any            `json:"prediction,omitempty"`
	DurationMS int64          `json:"durationMs"`
}

func (s *Server) handleExport(c *gin.Context) {
	if s.d.Exporter == nil {
		s.fail(c, http.StatusServiceUnavailable, errors.New().New(errors.ErrUnavailable), "Export is not configured.")
		return
	}

	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, errors.New().Wrap(errors.ErrInvalidArgument, err), "patientId is required.")
		return
	}

	res, err := s.d.Exporter.Run(c.Request.Context(), req.PatientID, s.progress)
	s.writeResult(c, res, err)
}

// handleCapture files an uploaded photo or scan as a new case. The form
// carries patientId and the image in the file field.
func (s *Server) handleCapture(c *gin.Context) {
	errFactory := errors.New()

	if s.d.Exporter == nil {
		s.fail(c, http.StatusServiceUnavailable, errFactory.New(errors.ErrUnavailable), "Export is not configured.")
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, http.StatusBadRequest, errFactory.Wrap(errors.ErrInvalidArgument, err), "An image file is required.")
		return
	}
	if fh.Size > maxImageBody {
		s.fail(c, http.StatusRequestEntityTooLarge, errFactory.New(store.ErrImageTooLarge), "Image exceeds 15 MB.")
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, errFactory.Wrap(errors.ErrInvalidArgument, err), "")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, http.StatusBadRequest, errFactory.Wrap(errors.ErrInvalidArgument, err), "")
		return
	}

	res, err := s.d.Exporter.RunImage(c.Request.Context(), c.PostForm("patientId"), data, fh.Filename, s.progress)
	s.writeResult(c, res, err)
}

func (s *Server) progress(pct int, msg string) {
	s.d.Hub.Broadcast(Message{
		Type: "progress",
		At:   time.Now(),
		Data: ProgressData{Percent: pct, Message: msg},
	})
}

func (s *Server) writeResult(c *gin.Context, res export.Result, err error) {
	resp := exportResponse{
		Outcome:    res.Outcome,
		CaseID:     res.CaseID,
		Message:    res.Message,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Quality != nil {
		resp.Quality = res.Quality
	}
	if res.Prediction != nil {
		resp.Prediction = res.Prediction
	}
	for _, w := range res.Warnings {
		resp.Warnings = append(resp.Warnings, w.Error())
	}

	code := http.StatusOK
	if err != nil {
		resp.ErrorCode = string(errors.CodeOf(err))
		code = statusFor(err)
	}

	c.JSON(code, resp)
}

func (s *Server) handleQuality(c *gin.Context) {
	if s.d.Assessor == nil {
		s.fail(c, http.StatusServiceUnavailable, errors.New().New(errors.ErrUnavailable), "Quality check is not configured.")
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImageBody+1))
	if err != nil {
		s.fail(c, http.StatusBadRequest, errors.New().Wrap(errors.ErrInvalidArgument, err), "")
		return
	}
	if len(data) > maxImageBody {
		s.fail(c, http.StatusRequestEntityTooLarge, errors.New().New(store.ErrImageTooLarge), "Image exceeds 15 MB.")
		return
	}

	report, err := s.d.Assessor.AssessBytes(data)
	if err != nil {
		s.fail(c, statusFor(err), err, "The file is not a readable image.")
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) fail(c *gin.Context, code int, err error, message string) {
	if message == "" {
		message = err.Error()
	}

	s.logger.Debug().Err(err).Int("status", code).Str("path", c.FullPath()).Msg("Request failed")

	c.JSON(code, gin.H{
		"errorCode": string(errors.CodeOf(err)),
		"message":   message,
	})
}

func statusFor(err error) int {
	switch {
	case errors.HasCode(err, acquisition.ErrAlreadyRecording),
		errors.HasCode(err, export.ErrExportInProgress):
		return http.StatusConflict
	case errors.HasCode(err, errors.ErrEmptyData):
		return http.StatusUnprocessableEntity
	case errors.HasCode(err, export.ErrInvalidPatient),
		errors.HasCode(err, errors.ErrInvalidArgument),
		errors.HasCode(err, quality.ErrDecode),
		errors.HasCode(err, quality.ErrEmptyImage):
		return http.StatusBadRequest
	case errors.HasCode(err, errors.ErrHardware),
		errors.HasCode(err, errors.ErrPersistence):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
