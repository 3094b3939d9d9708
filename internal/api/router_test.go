package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ismaiel54/stateful-consumer-probe/internal/config"
	"github.com/ismaiel54/stateful-consumer-probe/internal/consumer"
	"github.com/ismaiel54/stateful-consumer-probe/internal/journal"
	"github.com/ismaiel54/stateful-consumer-probe/internal/metrics"
	"github.com/ismaiel54/stateful-consumer-probe/internal/msg"
	"github.com/ismaiel54/stateful-consumer-probe/internal/txeventq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	status    consumer.Status
	records   []msg.Record
	pollErr   error
	reinitErr error
	polls     int
	reinits   int
}

func (f *fakeSession) ObjectID() string { return f.status.ObjectID }

func (f *fakeSession) Poll(ctx context.Context) ([]msg.Record, error) {
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	f.status.Initialized = true
	return f.records, nil
}

func (f *fakeSession) Reinitialize(ctx context.Context) error {
	f.reinits++
	f.status.Initialized = f.reinitErr == nil
	return f.reinitErr
}

func (f *fakeSession) Status() consumer.Status { return f.status }

func (f *fakeSession) Recent(n int) []msg.Record {
	if n < len(f.records) {
		return f.records[len(f.records)-n:]
	}
	return f.records
}

type fakeUpstream struct {
	published      []txeventq.ProduceRecord
	clusterRecords []txeventq.ProduceRecord
	enqueued       []txeventq.EnqueueRequest
	direct         *txeventq.DirectResult
	err            error
	topicCreated   bool
}

func (f *fakeUpstream) Publish(ctx context.Context, topic string, records []txeventq.ProduceRecord) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, records...)
	return []byte(`{"offsets":[]}`), nil
}

func (f *fakeUpstream) PublishToCluster(ctx context.Context, topic string, records []txeventq.ProduceRecord) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.clusterRecords = append(f.clusterRecords, records...)
	return []byte(`{"offsets":[{"offset":3}]}`), nil
}

func (f *fakeUpstream) CreateTopic(ctx context.Context, topic string, partitions int) (bool, error) {
	return f.topicCreated, f.err
}

func (f *fakeUpstream) ConsumeDirect(ctx context.Context, req txeventq.ConsumeDirectRequest) (*txeventq.DirectResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.direct, nil
}

func (f *fakeUpstream) Enqueue(ctx context.Context, req txeventq.EnqueueRequest) (*txeventq.EnqueueResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, req)
	return &txeventq.EnqueueResult{Status: "success", Raw: json.RawMessage(`{"status":"success"}`)}, nil
}

func (f *fakeUpstream) ConsumeDirectURL() string { return "https://db/ords/admin/wasm-kafka/consume-direct" }

type fakeProducer struct {
	keys []string
	err  error
}

func (f *fakeProducer) ProduceJSON(ctx context.Context, topic string, key string, v any) error {
	f.keys = append(f.keys, key)
	return f.err
}

type fakeHealth struct {
	ready []bool
}

func (f *fakeHealth) SetUpstreamReady(ready bool) { f.ready = append(f.ready, ready) }

func (f *fakeHealth) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type testEnv struct {
	router   *gin.Engine
	session  *fakeSession
	upstream *fakeUpstream
	health   *fakeHealth
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	cfg := config.Default("probe-server")
	cfg.Topic = "TOPIC"

	env := &testEnv{
		session: &fakeSession{status: consumer.Status{
			ObjectID:        "obj_1",
			ConsumerGroupID: "probe_topic_consumer",
		}},
		upstream: &fakeUpstream{},
		health:   &fakeHealth{},
	}
	deps := Deps{
		Config:   cfg,
		Session:  env.session,
		Upstream: env.upstream,
		Health:   env.health,
		Metrics:  metrics.New(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.router = NewRouter(deps, zap.NewNop())
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, "obj_1", body["consumer_status"].(map[string]any)["object_id"])
	assert.Zero(t, env.session.polls, "health must not poll")
}

func TestConsumePersistent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.records = []msg.Record{{Topic: "TOPIC", Offset: 4, Data: json.RawMessage(`{"test_data":"hi"}`)}}

	rec, body := env.do(t, http.MethodGet, "/consume-persistent", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "consume_persistent", body["endpoint"])
	assert.Equal(t, float64(1), body["message_count"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, map[string]any{"test_data": "hi"}, messages[0].(map[string]any)["data"])
	assert.Equal(t, []bool{true}, env.health.ready)
}

func TestConsumePersistent_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.records = []msg.Record{}

	rec, body := env.do(t, http.MethodGet, "/consume-persistent", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["messages"])
	assert.Equal(t, float64(0), body["message_count"])
}

func TestConsumePersistent_ErrorStill200(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.pollErr = errors.New("failed to create consumer instance: HTTP 500")

	rec, body := env.do(t, http.MethodGet, "/consume-persistent", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "HTTP 500")
	assert.Equal(t, []any{}, body["messages"])
	assert.Equal(t, []bool{false}, env.health.ready)
}

func TestConsumerStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 15; i++ {
		env.session.records = append(env.session.records, msg.Record{Offset: int64(i), Data: json.RawMessage(`{}`)})
	}

	_, body := env.do(t, http.MethodGet, "/consumer-status", "")
	assert.Equal(t, "success", body["status"])
	stored := body["all_consumed_messages"].([]any)
	require.Len(t, stored, statusHistorySize)
	assert.Equal(t, float64(5), stored[0].(map[string]any)["offset"])
}

func TestInitializeConsumer(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.do(t, http.MethodGet, "/initialize-consumer", "")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["initialized"])
	assert.Equal(t, 1, env.session.reinits)

	env.session.reinitErr = errors.New("subscribe failed")
	rec, body := env.do(t, http.MethodGet, "/initialize-consumer", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, false, body["initialized"])
	assert.Equal(t, "subscribe failed", body["error"])
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.do(t, http.MethodGet, "/send-message/hello-world", "")
	assert.Equal(t, "success", body["status"])
	require.Len(t, env.upstream.clusterRecords, 1)

	event := env.upstream.clusterRecords[0].Value.(msg.TestEvent)
	assert.Equal(t, "hello-world", event.TestData)
	assert.Equal(t, "test-native-hello-world", event.PlayerID)
	assert.Equal(t, msg.EventTypeTestMessage, event.Type)
	assert.Equal(t, `{"offsets":[{"offset":3}]}`, body["kafka_result"])

	_, _ = env.do(t, http.MethodGet, "/send-message/", "")
	require.Len(t, env.upstream.clusterRecords, 2)
	assert.Equal(t, defaultSendMessage, env.upstream.clusterRecords[1].Value.(msg.TestEvent).TestData)
}

func TestSendMessage_Error(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upstream.err = &txeventq.APIError{Op: "publish_cluster", StatusCode: 401, Body: "unauthorized"}

	rec, body := env.do(t, http.MethodGet, "/send-message/x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "HTTP 401")
}

func TestTestKafka(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.do(t, http.MethodPost, "/test-kafka", `{"test_message":"marker-1"}`)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "TOPIC", body["published_to"])
	require.Len(t, env.upstream.published, 1)

	value, ok := env.upstream.published[0].Value.(string)
	require.True(t, ok, "topic publish sends the event as a JSON string")
	var event msg.TestEvent
	require.NoError(t, json.Unmarshal([]byte(value), &event))
	assert.Equal(t, "marker-1", event.TestData)
	assert.Equal(t, "test-stateful-marker-1", event.PlayerID)
	assert.True(t, strings.HasPrefix(env.upstream.published[0].Key, "stateful-"))
}

func TestTestKafka_DefaultsAndBadJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.do(t, http.MethodPost, "/test-kafka", `{}`)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, defaultTestMessage, body["test_event"].(map[string]any)["test_data"])

	_, body = env.do(t, http.MethodPost, "/test-kafka", "")
	assert.Equal(t, "success", body["status"])

	rec, body := env.do(t, http.MethodPost, "/test-kafka", `{not json`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Len(t, env.upstream.published, 2)
}

func TestPLSQLEnqueue(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.do(t, http.MethodPost, "/test-plsql-enqueue", `{"test_message":"p1"}`)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, plsqlEnqueueMethod, body["method"])
	require.Len(t, env.upstream.enqueued, 1)

	req := env.upstream.enqueued[0]
	assert.Equal(t, "TOPIC", req.TopicName)
	var event msg.TestEvent
	require.NoError(t, json.Unmarshal([]byte(req.Message), &event))
	assert.Equal(t, msg.EventTypePLSQLEnqueue, event.Type)
	assert.Equal(t, "native_plsql_direct", event.Runtime)

	env.upstream.err = errors.New("ords down")
	_, body = env.do(t, http.MethodPost, "/test-plsql-enqueue", `{"test_message":"p2"}`)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "PLSQL enqueue failed: ords down", body["error"])
}

func TestConsumeDirect(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upstream.direct = &txeventq.DirectResult{
		Messages: []json.RawMessage{json.RawMessage(`{"a":1}`)},
		Count:    1,
		Result:   json.RawMessage(`{"count":1}`),
		Envelope: json.RawMessage(`{"items":[]}`),
	}

	_, body := env.do(t, http.MethodGet, "/consume-direct-plsql", "")
	assert.Equal(t, "success", body["status"], "missing status defaults to success")
	assert.Equal(t, "unknown", body["consumer_name"])
	assert.Equal(t, float64(2), body["timeout_seconds"])
	assert.Equal(t, float64(1), body["message_count"])
	assert.Equal(t, "native_direct", body["runtime"])

	env.upstream.err = errors.New("timeout")
	rec, body := env.do(t, http.MethodGet, "/consume-direct-plsql", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, []any{}, body["messages"])
	assert.Equal(t, "https://db/ords/admin/wasm-kafka/consume-direct", body["ords_url"])
}

func TestTestKafkaNative(t *testing.T) {
	env := newTestEnv(t, nil)
	_, body := env.do(t, http.MethodPost, "/test-kafka-native", `{"test_message":"n"}`)
	assert.Equal(t, "error", body["status"], "no producer configured")

	producer := &fakeProducer{}
	env = newTestEnv(t, func(d *Deps) { d.Producer = producer })
	_, body = env.do(t, http.MethodPost, "/test-kafka-native", `{"test_message":"n"}`)
	assert.Equal(t, "success", body["status"])
	assert.Len(t, producer.keys, 1)
}

func TestEnsureTopic(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upstream.topicCreated = true

	_, body := env.do(t, http.MethodGet, "/ensure-topic", "")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["created"])
}

func TestJournal(t *testing.T) {
	env := newTestEnv(t, nil)
	_, body := env.do(t, http.MethodGet, "/journal", "")
	assert.Equal(t, "disabled", body["status"])

	store, err := journal.Open(filepath.Join(t.TempDir(), "probe.db"))
	require.NoError(t, err)
	defer store.Close()

	env = newTestEnv(t, func(d *Deps) { d.Journal = store })
	env.do(t, http.MethodGet, "/consume-persistent", "")
	env.do(t, http.MethodGet, "/consumer-status", "")

	_, body = env.do(t, http.MethodGet, "/journal", "")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["distinct_object_ids"])
	assert.Equal(t, true, body["state_preserved"])
	observations := body["observations"].([]any)
	require.Len(t, observations, 2)
	assert.Equal(t, "/consumer-status", observations[0].(map[string]any)["endpoint"])
}

func TestOptionsPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/test-kafka", "/health", "/anything"} {
		rec, _ := env.do(t, http.MethodOptions, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assertCORS(t, rec)
	}
}

func TestDirectoryAndUnknownPost(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	endpoints := body["endpoints"].(map[string]any)
	assert.Equal(t, "/consume-persistent", endpoints["consume_persistent"])
	assert.Equal(t, "/initialize-consumer", endpoints["initialize_consumer"])

	rec, body = env.do(t, http.MethodPost, "/nope", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Unknown POST endpoint: /nope", body["error"])
}

func TestNearMissPathsGetDirectory(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/health/", "/consumer-status/", "/send-message", "/HEALTH"} {
		rec, body := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Header().Get("Location"), path)
		assertCORS(t, rec)
		require.NotNil(t, body, path)
		assert.Contains(t, body, "endpoints", path)
	}
	assert.Zero(t, env.session.polls)

	rec, body := env.do(t, http.MethodPost, "/test-kafka/", `{"test_message":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Unknown POST endpoint: /test-kafka/", body["error"])
	assert.Empty(t, env.upstream.published)
}

func TestMetricsAndHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/health", "")

	rec, _ := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `probe_http_requests_total{method="GET",route="/health"} 1`)

	rec, _ = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestTimestampsAreUnixSeconds(t *testing.T) {
	env := newTestEnv(t, nil)
	before := time.Now().Unix()

	_, body := env.do(t, http.MethodGet, "/consumer-status", "")
	assert.GreaterOrEqual(t, body["timestamp"].(float64), float64(before))
	assert.Less(t, body["timestamp"].(float64), float64(before+60))
}
