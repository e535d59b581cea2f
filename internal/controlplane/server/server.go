package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/botapi"
	"github.com/betbot/botdash/internal/botsync"
	"github.com/betbot/botdash/internal/probe"
)

var serverLog = logrus.WithField("component", "controlplane")

// BotService 同步器对外的操作（*botsync.Synchronizer 实现了该接口）
type BotService interface {
	Snapshot() botsync.Snapshot
	Bot(code string) (botsync.Bot, bool)
	AddBot(ctx context.Context, name, apiKey string) (botsync.Bot, error)
	DeleteBot(ctx context.Context, name, code string) error
	UpdateBotImage(ctx context.Context, bot botsync.Bot, kind botapi.ImageKind, data string) (botsync.Bot, error)
	UpdateBotText(ctx context.Context, bot botsync.Bot, kind botapi.TextKind, text string) (botsync.Bot, error)
	Refresh(ctx context.Context) error
}

// Connectivity 后端连通性探测（*probe.Prober 实现了该接口）
type Connectivity interface {
	Test(ctx context.Context) probe.Result
	Invalidate()
}

type Config struct {
	Bots  BotService
	Probe Connectivity
	// BackendURL 当前后端地址，仅用于展示
	BackendURL func() string
	// MaxUploadBytes multipart 上传上限，默认 10MB
	MaxUploadBytes int64
}

type Server struct {
	cfg Config
	hub *hub
}

func New(cfg Config) *Server {
	if cfg.BackendURL == nil {
		cfg.BackendURL = func() string { return "" }
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Server{
		cfg: cfg,
		hub: newHub(cfg.Bots.Snapshot),
	}
}

// PublishSnapshot 推送最新快照给所有 WebSocket 连接
func (s *Server) PublishSnapshot(snap botsync.Snapshot) {
	s.hub.publishSnapshot(snap)
}

// PublishNotice 推送用户提示
func (s *Server) PublishNotice(n botsync.Notice) {
	s.hub.publishNotice(n)
}

func (s *Server) Close() error {
	s.hub.close()
	return nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	api := r.Group("/api")
	api.GET("/bots", s.wrap(s.handleBotsList))
	api.POST("/bots", s.wrap(s.handleBotsCreate))
	botCode := api.Group("/bots/:code")
	botCode.GET("", s.wrap(s.handleBotGet))
	botCode.DELETE("", s.wrap(s.handleBotDelete))
	botCode.PUT("/images/:type", s.wrap(s.handleBotImageUpdate))
	botCode.PUT("/texts/:type", s.wrap(s.handleBotTextUpdate))

	api.POST("/refresh", s.wrap(s.handleRefresh))
	api.GET("/connectivity", s.wrap(s.handleConnectivity))
	api.POST("/connectivity/retry", s.wrap(s.handleConnectivityRetry))
	api.GET("/ws", s.wrap(s.hub.serveWS))

	// UI
	r.GET("/", s.wrap(s.handleUI))
	r.GET(botsync.PlaceholderImage, s.wrap(handlePlaceholder))

	return r
}

type contextKeyType string

const (
	paramsKey    contextKeyType = "botdash_path_params"
	requestIDKey contextKeyType = "botdash_request_id"
)

const requestIDHeader = "X-Request-Id"

// requestID 为每个请求分配 X-Request-Id（沿用客户端传入的值）并记录访问日志
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey, id))

		start := time.Now()
		c.Next()
		serverLog.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"elapsed":    time.Since(start).String(),
		}).Debug("request")
	}
}

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func urlParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}

func reqLog(r *http.Request) *logrus.Entry {
	id, _ := r.Context().Value(requestIDKey).(string)
	return serverLog.WithField("request_id", id)
}
