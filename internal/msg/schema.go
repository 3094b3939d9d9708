package msg

// Event types published by the probe
const (
	EventTypeTestMessage  = "test_message"
	EventTypePLSQLEnqueue = "plsql_enqueue_test"
)

// TestEvent is the synthetic payload published by the probe
type TestEvent struct {
	Type      string `json:"type"`
	PlayerID  string `json:"player_id"`
	Runtime   string `json:"runtime"`
	Timestamp int64  `json:"timestamp"`
	TestData  string `json:"test_data"`
	Method    string `json:"method,omitempty"`
}

// TestRequest is the body accepted by the POST publish endpoints
type TestRequest struct {
	TestMessage string `json:"test_message"`
}
