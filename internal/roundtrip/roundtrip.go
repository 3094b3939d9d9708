// Package roundtrip checks that a probe server keeps its consumer session
// across requests: a published marker must come back through the persistent
// consumer while the session object and upstream instance stay the same.
package roundtrip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures a Runner
type Options struct {
	BaseURL    string
	Attempts   int
	Interval   time.Duration
	HTTPClient *http.Client
}

// Result is the outcome of one round trip
type Result struct {
	Marker           string `json:"marker"`
	Found            bool   `json:"found"`
	Attempts         int    `json:"attempts"`
	PayloadUnchanged bool   `json:"payload_unchanged"`
	ObjectIDBefore   string `json:"object_id_before"`
	ObjectIDAfter    string `json:"object_id_after"`
	InstanceIDBefore string `json:"instance_id_before"`
	InstanceIDAfter  string `json:"instance_id_after"`
	ObjectIDStable   bool   `json:"object_id_stable"`
	InstanceIDStable bool   `json:"instance_id_stable"`
}

// Passed reports whether the marker surfaced unchanged through the same session
func (r *Result) Passed() bool {
	return r.Found && r.PayloadUnchanged && r.ObjectIDStable && r.InstanceIDStable
}

// Runner drives the probe server endpoints
type Runner struct {
	baseURL  string
	attempts int
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
}

type consumerStatus struct {
	ObjectID    string `json:"object_id"`
	InstanceID  string `json:"instance_id"`
	Initialized bool   `json:"initialized"`
}

type statusResponse struct {
	Status         string         `json:"status"`
	ConsumerStatus consumerStatus `json:"consumer_status"`
}

type publishResponse struct {
	Status    string         `json:"status"`
	Error     string         `json:"error"`
	TestEvent map[string]any `json:"test_event"`
}

type consumedMessage struct {
	Data map[string]any `json:"data"`
}

type consumeResponse struct {
	Status         string            `json:"status"`
	Error          string            `json:"error"`
	ConsumerStatus consumerStatus    `json:"consumer_status"`
	Messages       []consumedMessage `json:"messages"`
}

// NewRunner creates a Runner. Attempts below 1 become 1.
func NewRunner(opts Options, logger *zap.Logger) *Runner {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &Runner{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		attempts: attempts,
		interval: opts.Interval,
		client:   client,
		logger:   logger,
	}
}

// Run publishes a fresh marker and polls for it. An error means the probe
// server could not be driven at all; a failed check is reported in Result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{Marker: "roundtrip-" + uuid.NewString()}

	var before statusResponse
	if err := r.call(ctx, http.MethodGet, "/consumer-status", nil, &before); err != nil {
		return nil, fmt.Errorf("failed to read consumer status: %w", err)
	}
	res.ObjectIDBefore = before.ConsumerStatus.ObjectID
	res.InstanceIDBefore = before.ConsumerStatus.InstanceID

	// An uninitialized session has no instance yet. Initialize it with a
	// poll before publishing so the marker lands after the subscription.
	if !before.ConsumerStatus.Initialized {
		var warm consumeResponse
		if err := r.call(ctx, http.MethodGet, "/consume-persistent", nil, &warm); err != nil {
			return nil, fmt.Errorf("failed to initialize consumer: %w", err)
		}
		if warm.Status != "success" {
			return nil, fmt.Errorf("failed to initialize consumer: %s", warm.Error)
		}
		res.InstanceIDBefore = warm.ConsumerStatus.InstanceID
	}

	var published publishResponse
	body := map[string]string{"test_message": res.Marker}
	if err := r.call(ctx, http.MethodPost, "/test-kafka", body, &published); err != nil {
		return nil, fmt.Errorf("failed to publish marker: %w", err)
	}
	if published.Status != "success" {
		return nil, fmt.Errorf("failed to publish marker: %s", published.Error)
	}
	r.logger.Info("marker published", zap.String("marker", res.Marker))

	for res.Attempts < r.attempts && !res.Found {
		if res.Attempts > 0 {
			if err := sleep(ctx, r.interval); err != nil {
				return nil, err
			}
		}
		res.Attempts++

		var consumed consumeResponse
		if err := r.call(ctx, http.MethodGet, "/consume-persistent", nil, &consumed); err != nil {
			return nil, fmt.Errorf("failed to poll consumer: %w", err)
		}
		if consumed.Status != "success" {
			r.logger.Warn("poll returned error", zap.Int("attempt", res.Attempts), zap.String("error", consumed.Error))
			continue
		}
		for _, m := range consumed.Messages {
			if m.Data["test_data"] != res.Marker {
				continue
			}
			res.Found = true
			res.PayloadUnchanged = reflect.DeepEqual(m.Data, published.TestEvent)
			break
		}
		r.logger.Debug("poll attempt",
			zap.Int("attempt", res.Attempts),
			zap.Int("messages", len(consumed.Messages)),
			zap.Bool("found", res.Found),
		)
	}

	var after statusResponse
	if err := r.call(ctx, http.MethodGet, "/consumer-status", nil, &after); err != nil {
		return nil, fmt.Errorf("failed to read consumer status: %w", err)
	}
	res.ObjectIDAfter = after.ConsumerStatus.ObjectID
	res.InstanceIDAfter = after.ConsumerStatus.InstanceID
	res.ObjectIDStable = res.ObjectIDBefore != "" && res.ObjectIDBefore == res.ObjectIDAfter
	res.InstanceIDStable = res.InstanceIDBefore != "" && res.InstanceIDBefore == res.InstanceIDAfter

	return res, nil
}

func (r *Runner) call(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
