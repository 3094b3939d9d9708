package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ismaiel54/stateful-consumer-probe/internal/config"
	"github.com/ismaiel54/stateful-consumer-probe/internal/consumer"
	"github.com/ismaiel54/stateful-consumer-probe/internal/journal"
	"github.com/ismaiel54/stateful-consumer-probe/internal/msg"
	"github.com/ismaiel54/stateful-consumer-probe/internal/txeventq"
	"go.uber.org/zap"
)

// Version is reported by /health
const Version = "1.0.0"

// Session is the persistent consumer behind the poll endpoints
type Session interface {
	ObjectID() string
	Poll(ctx context.Context) ([]msg.Record, error)
	Reinitialize(ctx context.Context) error
	Status() consumer.Status
	Recent(n int) []msg.Record
}

// Upstream is the part of the REST proxy used directly by the handlers
type Upstream interface {
	Publish(ctx context.Context, topic string, records []txeventq.ProduceRecord) ([]byte, error)
	PublishToCluster(ctx context.Context, topic string, records []txeventq.ProduceRecord) ([]byte, error)
	CreateTopic(ctx context.Context, topic string, partitions int) (bool, error)
	ConsumeDirect(ctx context.Context, req txeventq.ConsumeDirectRequest) (*txeventq.DirectResult, error)
	Enqueue(ctx context.Context, req txeventq.EnqueueRequest) (*txeventq.EnqueueResult, error)
	ConsumeDirectURL() string
}

// NativeProducer publishes over the Kafka protocol
type NativeProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, v any) error
}

// Journal records which session object served each request
type Journal interface {
	Record(ctx context.Context, obs journal.Observation) (int64, error)
	Recent(ctx context.Context, limit int) ([]journal.Observation, error)
	DistinctObjects(ctx context.Context) (int, error)
}

// Health receives upstream readiness and serves /healthz
type Health interface {
	SetUpstreamReady(ready bool)
	HandleHealthz(w http.ResponseWriter, r *http.Request)
}

// Metrics counts requests and serves /metrics
type Metrics interface {
	ObserveRequest(method, route string)
	Handler() http.Handler
}

// Deps are the collaborators of the router. Producer, Journal, Health and
// Metrics are optional and must be left nil (not typed nil) when absent.
type Deps struct {
	Config   *config.Config
	Session  Session
	Upstream Upstream
	Producer NativeProducer
	Journal  Journal
	Health   Health
	Metrics  Metrics
}

// Handler serves the probe endpoints
type Handler struct {
	cfg      *config.Config
	session  Session
	upstream Upstream
	producer NativeProducer
	journal  Journal
	health   Health
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewRouter builds the gin engine with every probe route
func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	h := &Handler{
		cfg:      deps.Config,
		session:  deps.Session,
		upstream: deps.Upstream,
		producer: deps.Producer,
		journal:  deps.Journal,
		health:   deps.Health,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      time.Now,
	}

	r := gin.New()
	// Near-miss paths get the JSON directory rather than a redirect
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(gin.Recovery(), h.requestLogger(), h.cors())

	r.GET("/health", h.handleHealth)
	r.GET("/consume-persistent", h.handleConsumePersistent)
	r.GET("/consumer-status", h.handleConsumerStatus)
	r.GET("/consume-direct-plsql", h.handleConsumeDirect)
	r.GET("/initialize-consumer", h.handleInitialize)
	r.GET("/send-message/*text", h.handleSendMessage)
	r.GET("/ensure-topic", h.handleEnsureTopic)
	r.GET("/journal", h.handleJournal)

	r.POST("/test-kafka", h.handleTestKafka)
	r.POST("/test-plsql-enqueue", h.handlePLSQLEnqueue)
	r.POST("/test-kafka-native", h.handleTestKafkaNative)

	if h.health != nil {
		r.GET("/healthz", gin.WrapF(h.health.HandleHealthz))
	}
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	r.NoRoute(h.handleNoRoute)

	return r
}

// cors adds permissive CORS headers and answers preflight requests
func (h *Handler) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if h.metrics != nil {
			h.metrics.ObserveRequest(c.Request.Method, route)
		}
		h.logger.Info("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *Handler) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		c.IndentedJSON(http.StatusOK, gin.H{
			"status": "error",
			"error":  "Unknown POST endpoint: " + c.Request.URL.Path,
		})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"message": "Stateful Kafka consumer probe",
		"runtime": h.cfg.Runtime,
		"endpoints": gin.H{
			"health":               "/health",
			"consume_persistent":   "/consume-persistent",
			"consume_direct_plsql": "/consume-direct-plsql",
			"consumer_status":      "/consumer-status",
			"initialize_consumer":  "/initialize-consumer",
			"send_message":         "/send-message/{text}",
			"ensure_topic":         "/ensure-topic",
			"journal":              "/journal",
			"metrics":              "/metrics",
			"test_kafka":           "/test-kafka (POST)",
			"test_plsql_enqueue":   "/test-plsql-enqueue (POST)",
			"test_kafka_native":    "/test-kafka-native (POST)",
		},
		"description": "Tests persistent Kafka consumer state across HTTP requests",
	})
}

// observe records a journal entry for the current session state. Journal
// failures never affect the response.
func (h *Handler) observe(c *gin.Context, endpoint string, messageCount int) {
	if h.journal == nil {
		return
	}
	status := h.session.Status()
	_, err := h.journal.Record(c.Request.Context(), journal.Observation{
		ObjectID:           status.ObjectID,
		InstanceID:         status.InstanceID,
		Endpoint:           endpoint,
		Initialized:        status.Initialized,
		MessageCount:       messageCount,
		ObservedUnixMillis: h.now().UnixMilli(),
	})
	if err != nil {
		h.logger.Warn("failed to record journal observation", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func (h *Handler) setUpstreamReady(ready bool) {
	if h.health != nil {
		h.health.SetUpstreamReady(ready)
	}
}
