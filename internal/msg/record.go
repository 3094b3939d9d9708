package msg

import "encoding/json"

// Record represents a consumed record as kept in the session history
type Record struct {
	Topic      string          `json:"topic"`
	Partition  int32           `json:"partition"`
	Offset     int64           `json:"offset"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	ConsumedBy string          `json:"consumed_by"`
	ConsumedAt int64           `json:"consumed_at"`
	InstanceID string          `json:"instance_id"`
}

// Event decodes Data as a TestEvent. Records that are not test events
// return an empty event.
func (r Record) Event() TestEvent {
	var ev TestEvent
	_ = json.Unmarshal(r.Data, &ev)
	return ev
}
