package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"aircast/internal/core/domain"
	apperrors "aircast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config holds the relay server settings.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration

	RateLimitEnabled bool
	RequestsPerSec   float64
	Burst            int

	AdminSecret string
	TokenTTL    time.Duration

	PrometheusEnabled bool
}

// Server is the HTTP/WebSocket front of the relay.
type Server struct {
	cfg    Config
	hub    *Hub
	logger *zap.SugaredLogger

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	httpServer *http.Server
}

func NewServer(cfg Config, hub *Hub, logger *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:          cfg,
		hub:          hub,
		logger:       logger,
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Address,
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RateLimitMiddleware(s.cfg.RateLimitEnabled, s.cfg.RequestsPerSec, s.cfg.Burst))

	r.GET("/ws", s.handleWebSocket)
	r.GET("/health", s.handleHealth)

	if s.cfg.PrometheusEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.POST("/api/v1/auth/token", s.handleToken)

	admin := r.Group("/api/v1", AdminAuthMiddleware(s.cfg.AdminSecret))
	admin.GET("/sessions", s.handleListSessions)
	admin.DELETE("/sessions/:code", s.handleEvictSession)

	return r
}

// Handler exposes the HTTP handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("relay server listening", "address", s.cfg.Address)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Infow("relay server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// respondError renders an AppError as the HTTP response, keeping status
// codes and error codes consistent across the admin API.
func respondError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.HTTPStatus, gin.H{"code": appErr.Code, "error": appErr.Message})
}

// abortError is respondError for middleware, stopping the handler chain.
func abortError(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{"code": appErr.Code, "error": appErr.Message})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": len(s.hub.Sessions()),
	})
}

func (s *Server) handleToken(c *gin.Context) {
	var body struct {
		Secret string `json:"secret"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Secret != s.cfg.AdminSecret {
		respondError(c, apperrors.NewUnauthorizedError("invalid admin secret"))
		return
	}
	token, err := IssueAdminToken(s.cfg.AdminSecret, s.cfg.TokenTTL)
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to issue token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(s.cfg.TokenTTL.Seconds()),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.hub.Sessions()})
}

func (s *Server) handleEvictSession(c *gin.Context) {
	code := c.Param("code")
	if !domain.ValidateSessionCode(code) {
		respondError(c, apperrors.NewInvalidInputError("session code must be six digits"))
		return
	}
	if err := s.hub.Evict(c.Request.Context(), domain.SessionCode(code)); err != nil {
		respondError(c, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to evict session", http.StatusInternalServerError))
		return
	}
	s.logger.Infow("session evicted by admin", "session_code", code)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	cl := newClient(conn)
	defer cl.shutdown()

	remote := conn.RemoteAddr().String()
	s.logger.Infow("client connected", "remote", remote)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	// Writer goroutine: gorilla connections allow one concurrent writer,
	// so acks and watch events funnel through cl.send.
	writeErr := make(chan error, 1)
	go func() {
		pingTicker := time.NewTicker(s.pingInterval)
		defer pingTicker.Stop()
		for {
			select {
			case msg := <-cl.send:
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					writeErr <- err
					return
				}
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					writeErr <- err
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case err := <-writeErr:
			s.logger.Infow("client write failed, closing", "remote", remote, "error", err)
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warnw("client read failed", "remote", remote, "error", err)
			} else {
				s.logger.Infow("client disconnected", "remote", remote)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		ack := s.hub.handle(c.Request.Context(), cl, msg)
		if !cl.enqueue(ack) {
			s.logger.Warnw("client send queue full, closing", "remote", remote)
			return
		}
	}
}
