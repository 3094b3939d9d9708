package txeventq

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const basePath = "/ords/admin/_/db-api/stable/database/txeventq"

type capturedRequest struct {
	Method string
	Path   string
	Body   map[string]any
	User   string
	Pass   string
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, got capturedRequest)) (*Client, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := capturedRequest{Method: r.Method, Path: r.URL.Path}
		got.User, got.Pass, _ = r.BasicAuth()
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &got.Body)
		}
		seen = append(seen, got)
		handler(w, r, got)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Options{
		Endpoint: srv.URL,
		Username: "ADMIN",
		Password: "secret",
		DBName:   "MYDB",
		Timeout:  2 * time.Second,
	}, zap.NewNop())
	return client, &seen
}

func TestCreateConsumerGroup(t *testing.T) {
	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.WriteHeader(http.StatusOK)
	})

	err := client.CreateConsumerGroup(context.Background(), "probe_topic_consumer", "TOPIC")
	require.NoError(t, err)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, basePath+"/clusters/MYDB/consumer-groups/probe_topic_consumer", req.Path)
	assert.Equal(t, "TOPIC", req.Body["topic_name"])
	assert.Equal(t, "ADMIN", req.User)
	assert.Equal(t, "secret", req.Pass)
}

func TestCreateConsumerInstance(t *testing.T) {
	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.Write([]byte(`{"instance_id":"inst-1","base_uri":"x"}`))
	})

	id, err := client.CreateConsumerInstance(context.Background(), "grp")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", id)
	assert.Equal(t, basePath+"/consumers/grp", (*seen)[0].Path)
}

func TestSubscribe(t *testing.T) {
	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.Subscribe(context.Background(), "grp", "inst-1", []string{"TOPIC"})
	require.NoError(t, err)

	req := (*seen)[0]
	assert.Equal(t, basePath+"/consumers/grp/instances/inst-1/subscription", req.Path)
	assert.Equal(t, []any{"TOPIC"}, req.Body["topics"])
}

func TestFetchRecords_EmptyBody(t *testing.T) {
	for _, body := range []string{"", "  \n", "[]"} {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
			w.Write([]byte(body))
		})

		records, err := client.FetchRecords(context.Background(), "grp", "inst-1")
		require.NoError(t, err, "body %q", body)
		assert.Empty(t, records)
	}
}

func TestFetchRecords(t *testing.T) {
	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`[{"topic":"TOPIC","partition":0,"offset":7,"key":"k","value":"{\"a\":1}"}]`))
	})

	records, err := client.FetchRecords(context.Background(), "grp", "inst-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, http.MethodGet, (*seen)[0].Method)
	assert.Equal(t, basePath+"/consumers/grp/instances/inst-1/records", (*seen)[0].Path)
	assert.Equal(t, "TOPIC", records[0].Topic)
	require.NotNil(t, records[0].Offset)
	assert.Equal(t, int64(7), *records[0].Offset)
	assert.JSONEq(t, `"{\"a\":1}"`, string(records[0].Value))
}

func TestPublishPaths(t *testing.T) {
	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.Write([]byte(`{"offsets":[{"partition":0,"offset":1}]}`))
	})
	ctx := context.Background()
	records := []ProduceRecord{{Key: "k1", Value: `{"x":1}`}}

	_, err := client.Publish(ctx, "TOPIC", records)
	require.NoError(t, err)
	_, err = client.PublishToCluster(ctx, "TOPIC", []ProduceRecord{{Key: "k2", Value: map[string]any{"x": 1}}})
	require.NoError(t, err)

	require.Len(t, *seen, 2)
	assert.Equal(t, basePath+"/topics/TOPIC", (*seen)[0].Path)
	assert.Equal(t, basePath+"/clusters/MYDB/topics/TOPIC/records", (*seen)[1].Path)

	first := (*seen)[0].Body["records"].([]any)[0].(map[string]any)
	assert.Equal(t, `{"x":1}`, first["value"], "topic publish carries the value as a string")
	second := (*seen)[1].Body["records"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"x": float64(1)}, second["value"])
}

func TestDeleteConsumerInstance(t *testing.T) {
	client, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.DeleteConsumerInstance(context.Background(), "grp", "inst-1"))
	assert.Equal(t, http.MethodDelete, (*seen)[0].Method)
	assert.Equal(t, basePath+"/consumers/grp/instances/inst-1", (*seen)[0].Path)
}

func TestCreateTopic_ConflictIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.WriteHeader(http.StatusConflict)
	})

	created, err := client.CreateTopic(context.Background(), "TOPIC", 1)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"ORA-24034","message":"application already a subscriber"}`))
	})

	err := client.CreateConsumerGroup(context.Background(), "grp", "TOPIC")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "ORA-24034", apiErr.Code)
	assert.Equal(t, "create_consumer_group", apiErr.Op)
	assert.True(t, IsConflict(err))
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) ObserveUpstream(op string, statusCode int, err error, elapsed time.Duration) {
	o.ops = append(o.ops, op)
}

func TestObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	client := NewClient(Options{Endpoint: srv.URL, DBName: "MYDB", Observer: obs}, zap.NewNop())

	err := client.Subscribe(context.Background(), "grp", "inst", []string{"T"})
	require.Error(t, err)
	assert.False(t, IsConflict(err))
	assert.Equal(t, []string{"subscribe"}, obs.ops)
}
