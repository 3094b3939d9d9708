package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ismaiel54/stateful-consumer-probe/internal/msg"
	"github.com/ismaiel54/stateful-consumer-probe/internal/txeventq"
	"go.uber.org/zap"
)

// statusHistorySize is how many stored records /consumer-status returns
const statusHistorySize = 10

func (h *Handler) handleHealth(c *gin.Context) {
	h.observe(c, "/health", 0)
	c.IndentedJSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"runtime":         h.cfg.Runtime,
		"service":         "stateful consumer probe",
		"timestamp":       h.now().Unix(),
		"version":         Version,
		"consumer_status": h.session.Status(),
	})
}

func (h *Handler) handleConsumePersistent(c *gin.Context) {
	records, err := h.session.Poll(c.Request.Context())
	status := h.session.Status()
	h.setUpstreamReady(err == nil)

	if err != nil {
		h.logger.Warn("persistent poll failed", zap.String("object_id", status.ObjectID), zap.Error(err))
		h.observe(c, "/consume-persistent", 0)
		c.IndentedJSON(http.StatusOK, gin.H{
			"status":          "error",
			"error":           err.Error(),
			"runtime":         h.cfg.Runtime,
			"endpoint":        "consume_persistent",
			"messages":        []msg.Record{},
			"message_count":   0,
			"consumer_status": status,
			"timestamp":       h.now().Unix(),
		})
		return
	}

	h.observe(c, "/consume-persistent", len(records))
	if records == nil {
		records = []msg.Record{}
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"status":          "success",
		"runtime":         h.cfg.Runtime,
		"endpoint":        "consume_persistent",
		"messages":        records,
		"message_count":   len(records),
		"consumer_status": status,
		"note":            "Using persistent consumer - maintains state across requests",
		"timestamp":       h.now().Unix(),
	})
}

func (h *Handler) handleConsumerStatus(c *gin.Context) {
	h.observe(c, "/consumer-status", 0)
	c.IndentedJSON(http.StatusOK, gin.H{
		"status":                "success",
		"consumer_status":       h.session.Status(),
		"all_consumed_messages": h.session.Recent(statusHistorySize),
		"timestamp":             h.now().Unix(),
	})
}

func (h *Handler) handleInitialize(c *gin.Context) {
	err := h.session.Reinitialize(c.Request.Context())
	h.setUpstreamReady(err == nil)
	h.observe(c, "/initialize-consumer", 0)

	resp := gin.H{
		"status":          "success",
		"initialized":     err == nil,
		"consumer_status": h.session.Status(),
		"timestamp":       h.now().Unix(),
	}
	if err != nil {
		h.logger.Error("consumer re-initialization failed", zap.Error(err))
		resp["status"] = "error"
		resp["error"] = err.Error()
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (h *Handler) handleConsumeDirect(c *gin.Context) {
	ordsURL := h.upstream.ConsumeDirectURL()
	runtime := h.cfg.Runtime + "_direct"

	res, err := h.upstream.ConsumeDirect(c.Request.Context(), txeventq.ConsumeDirectRequest{
		TopicName:    h.cfg.Topic,
		ConsumerName: h.cfg.DirectConsumerName,
		Timeout:      h.cfg.DirectTimeoutSeconds,
	})
	if err != nil {
		h.logger.Warn("direct consume failed", zap.String("ords_url", ordsURL), zap.Error(err))
		c.IndentedJSON(http.StatusOK, gin.H{
			"status":        "error",
			"error":         "Failed to consume via direct PLSQL: " + err.Error(),
			"runtime":       runtime,
			"endpoint":      "consume_direct_plsql",
			"messages":      []json.RawMessage{},
			"message_count": 0,
			"ords_url":      ordsURL,
			"timestamp":     h.now().Unix(),
		})
		return
	}

	status := res.Status
	if status == "" {
		status = "success"
	}
	consumerName := res.ConsumerName
	if consumerName == "" {
		consumerName = "unknown"
	}
	timeoutSeconds := res.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = h.cfg.DirectTimeoutSeconds
	}
	messages := res.Messages
	if messages == nil {
		messages = []json.RawMessage{}
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"status":          status,
		"runtime":         runtime,
		"endpoint":        "consume_direct_plsql",
		"messages":        messages,
		"message_count":   res.Count,
		"plsql_response":  res.Result,
		"ords_response":   res.Envelope,
		"consumer_name":   consumerName,
		"timeout_seconds": timeoutSeconds,
		"note":            "Direct call to the database via ORDS REST and a PL/SQL procedure",
		"ords_url":        ordsURL,
		"timestamp":       h.now().Unix(),
	})
}

func (h *Handler) handleJournal(c *gin.Context) {
	if h.journal == nil {
		c.IndentedJSON(http.StatusOK, gin.H{
			"status":    "disabled",
			"error":     "journal not configured, set JOURNAL_PATH",
			"timestamp": h.now().Unix(),
		})
		return
	}

	ctx := c.Request.Context()
	observations, err := h.journal.Recent(ctx, 20)
	if err == nil {
		var distinct int
		distinct, err = h.journal.DistinctObjects(ctx)
		if err == nil {
			c.IndentedJSON(http.StatusOK, gin.H{
				"status":              "success",
				"current_object_id":   h.session.ObjectID(),
				"distinct_object_ids": distinct,
				"state_preserved":     distinct <= 1,
				"observations":        observations,
				"timestamp":           h.now().Unix(),
			})
			return
		}
	}

	h.logger.Error("failed to read journal", zap.Error(err))
	c.IndentedJSON(http.StatusOK, gin.H{
		"status":    "error",
		"error":     err.Error(),
		"timestamp": h.now().Unix(),
	})
}
