package txeventq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Observer receives the outcome of every upstream call
type Observer interface {
	ObserveUpstream(op string, statusCode int, err error, elapsed time.Duration)
}

// Options configures a Client
type Options struct {
	// Host of the database REST endpoint, without scheme
	Host string
	// Endpoint overrides "https://<Host>" as the URL root
	Endpoint string

	Username string
	Password string
	DBName   string
	Schema   string
	Module   string

	Timeout        time.Duration
	PublishTimeout time.Duration

	Transport http.RoundTripper
	Observer  Observer
}

// Client talks to the TxEventQ REST proxy and the ORDS procedures of the probe schema
type Client struct {
	httpClient     *http.Client
	baseURL        string
	ordsURL        string
	dbName         string
	username       string
	password       string
	publishTimeout time.Duration
	observer       Observer
	logger         *zap.Logger
}

// NewClient creates a new REST proxy client
func NewClient(opts Options, logger *zap.Logger) *Client {
	root := strings.TrimRight(opts.Endpoint, "/")
	if root == "" {
		root = "https://" + opts.Host
	}
	schema := opts.Schema
	if schema == "" {
		schema = "admin"
	}
	module := opts.Module
	if module == "" {
		module = "wasm-kafka"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ords := fmt.Sprintf("%s/ords/%s", root, schema)
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
		},
		baseURL:        ords + "/_/db-api/stable/database/txeventq",
		ordsURL:        ords + "/" + module,
		dbName:         opts.DBName,
		username:       opts.Username,
		password:       opts.Password,
		publishTimeout: opts.PublishTimeout,
		observer:       opts.Observer,
		logger:         logger,
	}
}

// BaseURL returns the TxEventQ REST root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ConsumeDirectURL returns the URL of the consume-direct procedure
func (c *Client) ConsumeDirectURL() string {
	return c.ordsURL + "/consume-direct"
}

// CreateConsumerGroup creates the consumer group for topic
func (c *Client) CreateConsumerGroup(ctx context.Context, group, topic string) error {
	u := fmt.Sprintf("%s/clusters/%s/consumer-groups/%s", c.baseURL, url.PathEscape(c.dbName), url.PathEscape(group))
	_, err := c.do(ctx, "create_consumer_group", http.MethodPost, u, consumerGroupRequest{TopicName: topic}, 0)
	return err
}

// CreateConsumerInstance creates a consumer instance in group and returns its id.
// The id is empty when the proxy omits it.
func (c *Client) CreateConsumerInstance(ctx context.Context, group string) (string, error) {
	u := fmt.Sprintf("%s/consumers/%s", c.baseURL, url.PathEscape(group))
	body, err := c.do(ctx, "create_consumer_instance", http.MethodPost, u, struct{}{}, 0)
	if err != nil {
		return "", err
	}

	var resp consumerInstanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode consumer instance response: %w", err)
	}
	return resp.InstanceID, nil
}

// Subscribe subscribes a consumer instance to topics
func (c *Client) Subscribe(ctx context.Context, group, instance string, topics []string) error {
	u := fmt.Sprintf("%s/subscription", c.instanceURL(group, instance))
	_, err := c.do(ctx, "subscribe", http.MethodPost, u, subscriptionRequest{Topics: topics}, 0)
	return err
}

// FetchRecords polls pending records of a consumer instance. An empty body
// means no records are available.
func (c *Client) FetchRecords(ctx context.Context, group, instance string) ([]Record, error) {
	u := fmt.Sprintf("%s/records", c.instanceURL(group, instance))
	body, err := c.do(ctx, "fetch_records", http.MethodGet, u, nil, 0)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]")) {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

// DeleteConsumerInstance removes a consumer instance
func (c *Client) DeleteConsumerInstance(ctx context.Context, group, instance string) error {
	_, err := c.do(ctx, "delete_consumer_instance", http.MethodDelete, c.instanceURL(group, instance), nil, 0)
	return err
}

// Publish produces records to topic through the topic endpoint. Callers pass
// values already encoded as JSON strings.
func (c *Client) Publish(ctx context.Context, topic string, records []ProduceRecord) ([]byte, error) {
	u := fmt.Sprintf("%s/topics/%s", c.baseURL, url.PathEscape(topic))
	return c.do(ctx, "publish", http.MethodPost, u, produceRequest{Records: records}, 0)
}

// PublishToCluster produces records through the cluster-scoped records endpoint
func (c *Client) PublishToCluster(ctx context.Context, topic string, records []ProduceRecord) ([]byte, error) {
	u := fmt.Sprintf("%s/clusters/%s/topics/%s/records", c.baseURL, url.PathEscape(c.dbName), url.PathEscape(topic))
	return c.do(ctx, "publish_cluster", http.MethodPost, u, produceRequest{Records: records}, c.publishTimeout)
}

// CreateTopic creates topic with the given partition count. An existing topic is not an error.
func (c *Client) CreateTopic(ctx context.Context, topic string, partitions int) (bool, error) {
	u := fmt.Sprintf("%s/clusters/%s/topics", c.baseURL, url.PathEscape(c.dbName))
	req := createTopicRequest{TopicName: topic, PartitionsCount: fmt.Sprintf("%d", partitions)}
	if _, err := c.do(ctx, "create_topic", http.MethodPost, u, req, 0); err != nil {
		if IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) instanceURL(group, instance string) string {
	return fmt.Sprintf("%s/consumers/%s/instances/%s", c.baseURL, url.PathEscape(group), url.PathEscape(instance))
}

func (c *Client) do(ctx context.Context, op, method, u string, payload any, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("upstream request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", u),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%s: request failed: %w", op, err)
		c.observe(op, 0, err, start)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("%s: failed to read response: %w", op, err)
		c.observe(op, resp.StatusCode, err, start)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Code:       extractCode(body),
		}
		c.observe(op, resp.StatusCode, apiErr, start)
		return nil, apiErr
	}

	c.observe(op, resp.StatusCode, nil, start)
	return body, nil
}

func (c *Client) observe(op string, statusCode int, err error, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveUpstream(op, statusCode, err, time.Since(start))
	}
}
