package txeventq

import "encoding/json"

// Record is one entry of a records fetch. Key and Value are left raw: the
// proxy returns values either as JSON objects or as JSON-encoded strings.
type Record struct {
	Topic     string          `json:"topic"`
	Partition *int32          `json:"partition"`
	Offset    *int64          `json:"offset"`
	Key       json.RawMessage `json:"key"`
	Value     json.RawMessage `json:"value"`
}

// ProduceRecord is one record of a publish request
type ProduceRecord struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type produceRequest struct {
	Records []ProduceRecord `json:"records"`
}

type consumerGroupRequest struct {
	TopicName string `json:"topic_name"`
}

type consumerInstanceResponse struct {
	InstanceID string `json:"instance_id"`
	BaseURI    string `json:"base_uri,omitempty"`
}

type subscriptionRequest struct {
	Topics []string `json:"topics"`
}

type createTopicRequest struct {
	TopicName       string `json:"topic_name"`
	PartitionsCount string `json:"partitions_count"`
}

// ConsumeDirectRequest is the body of the consume-direct procedure
type ConsumeDirectRequest struct {
	TopicName    string `json:"topic_name"`
	ConsumerName string `json:"consumer_name"`
	Timeout      int    `json:"timeout"`
}

// DirectResult is the unwrapped result of the consume-direct procedure
type DirectResult struct {
	Status         string            `json:"status"`
	Messages       []json.RawMessage `json:"messages"`
	Count          int               `json:"count"`
	ConsumerName   string            `json:"consumer_name"`
	TimeoutSeconds int               `json:"timeout_seconds"`

	// Result is the procedure output as returned, Envelope the raw ORDS body
	Result   json.RawMessage `json:"-"`
	Envelope json.RawMessage `json:"-"`
}

// EnqueueRequest is the body of the publish procedure
type EnqueueRequest struct {
	TopicName string `json:"topic_name"`
	Message   string `json:"message"`
	Key       string `json:"key"`
}

// EnqueueResult is the response of the publish procedure
type EnqueueResult struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

type ordsEnvelope struct {
	Items []struct {
		Result json.RawMessage `json:"result"`
	} `json:"items"`
}
