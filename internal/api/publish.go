package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ismaiel54/stateful-consumer-probe/internal/msg"
	"github.com/ismaiel54/stateful-consumer-probe/internal/txeventq"
	"go.uber.org/zap"
)

// Default test_message values when a request omits it
const (
	defaultSendMessage    = "default-test"
	defaultTestMessage    = "stateful_test"
	defaultPLSQLMessage   = "plsql_enqueue_test"
	defaultNativeMessage  = "native_test"
	nativeMethod          = "kafka_protocol"
	plsqlEnqueueMethod    = "plsql_enqueue"
	ensureTopicPartitions = 1
)

func (h *Handler) handleSendMessage(c *gin.Context) {
	text := strings.TrimPrefix(c.Param("text"), "/")
	if text == "" {
		text = defaultSendMessage
	}

	now := h.now()
	event := msg.TestEvent{
		Type:      msg.EventTypeTestMessage,
		PlayerID:  fmt.Sprintf("test-%s-%s", h.cfg.Runtime, text),
		Runtime:   h.cfg.Runtime,
		Timestamp: now.UnixMilli(),
		TestData:  text,
	}

	result, err := h.upstream.PublishToCluster(c.Request.Context(), h.cfg.Topic, []txeventq.ProduceRecord{{
		Key:   fmt.Sprintf("%s-%d", h.cfg.Runtime, now.Unix()),
		Value: event,
	}})
	if err != nil {
		h.logger.Warn("send message failed", zap.String("text", text), zap.Error(err))
		c.IndentedJSON(http.StatusOK, gin.H{
			"status":    "error",
			"message":   fmt.Sprintf("Failed to send message '%s' to %s", text, h.cfg.Topic),
			"runtime":   h.cfg.Runtime,
			"error":     err.Error(),
			"timestamp": now.Unix(),
		})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"status":       "success",
		"message":      fmt.Sprintf("Test message '%s' sent to %s successfully", text, h.cfg.Topic),
		"runtime":      h.cfg.Runtime,
		"test_event":   event,
		"kafka_result": string(result),
		"timestamp":    now.Unix(),
	})
}

func (h *Handler) handleTestKafka(c *gin.Context) {
	now := h.now()
	text, err := bindTestMessage(c, defaultTestMessage)
	if err != nil {
		h.publishError(c, err.Error(), "")
		return
	}

	event := msg.TestEvent{
		Type:      msg.EventTypeTestMessage,
		PlayerID:  "test-stateful-" + text,
		Runtime:   h.cfg.Runtime,
		Timestamp: now.Unix(),
		TestData:  text,
	}
	value, err := json.Marshal(event)
	if err != nil {
		h.publishError(c, err.Error(), "")
		return
	}

	_, err = h.upstream.Publish(c.Request.Context(), h.cfg.Topic, []txeventq.ProduceRecord{{
		Key:   fmt.Sprintf("stateful-%d", now.Unix()),
		Value: string(value),
	}})
	if err != nil {
		h.logger.Warn("test publish failed", zap.Error(err))
		h.publishError(c, err.Error(), "")
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"status":       "success",
		"test_event":   event,
		"published_to": h.cfg.Topic,
		"timestamp":    now.Unix(),
	})
}

func (h *Handler) handlePLSQLEnqueue(c *gin.Context) {
	now := h.now()
	text, err := bindTestMessage(c, defaultPLSQLMessage)
	if err != nil {
		h.publishError(c, "PLSQL enqueue failed: "+err.Error(), plsqlEnqueueMethod)
		return
	}

	event := msg.TestEvent{
		Type:      msg.EventTypePLSQLEnqueue,
		PlayerID:  "test-plsql-" + text,
		Runtime:   h.cfg.Runtime + "_plsql_direct",
		Timestamp: now.Unix(),
		TestData:  text,
		Method:    plsqlEnqueueMethod,
	}
	value, err := json.Marshal(event)
	if err != nil {
		h.publishError(c, "PLSQL enqueue failed: "+err.Error(), plsqlEnqueueMethod)
		return
	}

	res, err := h.upstream.Enqueue(c.Request.Context(), txeventq.EnqueueRequest{
		TopicName: h.cfg.Topic,
		Message:   string(value),
		Key:       fmt.Sprintf("plsql-%d", now.Unix()),
	})
	if err != nil {
		h.logger.Warn("plsql enqueue failed", zap.Error(err))
		h.publishError(c, "PLSQL enqueue failed: "+err.Error(), plsqlEnqueueMethod)
		return
	}

	status := res.Status
	if status == "" {
		status = "unknown"
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"status":         status,
		"test_event":     event,
		"published_to":   h.cfg.Topic,
		"method":         plsqlEnqueueMethod,
		"plsql_response": res.Raw,
		"timestamp":      now.Unix(),
	})
}

func (h *Handler) handleTestKafkaNative(c *gin.Context) {
	now := h.now()
	if h.producer == nil {
		h.publishError(c, msg.ErrNotConfigured.Error()+", set KAFKA_BROKERS", nativeMethod)
		return
	}

	text, err := bindTestMessage(c, defaultNativeMessage)
	if err != nil {
		h.publishError(c, err.Error(), nativeMethod)
		return
	}

	event := msg.TestEvent{
		Type:      msg.EventTypeTestMessage,
		PlayerID:  "test-native-" + text,
		Runtime:   h.cfg.Runtime + "_native",
		Timestamp: now.Unix(),
		TestData:  text,
		Method:    nativeMethod,
	}
	key := fmt.Sprintf("native-%d", now.Unix())
	if err := h.producer.ProduceJSON(c.Request.Context(), h.cfg.Topic, key, event); err != nil {
		h.logger.Warn("native publish failed", zap.Error(err))
		h.publishError(c, err.Error(), nativeMethod)
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"status":       "success",
		"test_event":   event,
		"published_to": h.cfg.Topic,
		"method":       nativeMethod,
		"timestamp":    now.Unix(),
	})
}

func (h *Handler) handleEnsureTopic(c *gin.Context) {
	created, err := h.upstream.CreateTopic(c.Request.Context(), h.cfg.Topic, ensureTopicPartitions)
	if err != nil {
		h.logger.Warn("topic creation failed", zap.String("topic", h.cfg.Topic), zap.Error(err))
		c.IndentedJSON(http.StatusOK, gin.H{
			"status":    "error",
			"error":     err.Error(),
			"topic":     h.cfg.Topic,
			"timestamp": h.now().Unix(),
		})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"status":    "success",
		"topic":     h.cfg.Topic,
		"created":   created,
		"timestamp": h.now().Unix(),
	})
}

func (h *Handler) publishError(c *gin.Context, errText, method string) {
	resp := gin.H{
		"status":    "error",
		"error":     errText,
		"timestamp": h.now().Unix(),
	}
	if method != "" {
		resp["method"] = method
	}
	c.IndentedJSON(http.StatusOK, resp)
}

// bindTestMessage reads the test_message field. An empty body or a missing
// field yields def.
func bindTestMessage(c *gin.Context, def string) (string, error) {
	var req msg.TestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("invalid request body: %w", err)
	}
	if req.TestMessage == "" {
		return def, nil
	}
	return req.TestMessage, nil
}
