package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// maxEncodingDepth bounds how many JSON-string wrappings are peeled off a value.
const maxEncodingDepth = 3

var errEmptyValue = errors.New("record has no value")

// decodeValue turns a wire value into JSON. The proxy returns values either as
// objects or as JSON-encoded strings, sometimes encoded twice.
func decodeValue(raw json.RawMessage) (json.RawMessage, error) {
	value := bytes.TrimSpace(raw)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil, errEmptyValue
	}

	for depth := 0; depth < maxEncodingDepth && value[0] == '"'; depth++ {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, fmt.Errorf("failed to unquote value: %w", err)
		}
		value = bytes.TrimSpace([]byte(s))
		if len(value) == 0 {
			return nil, errEmptyValue
		}
	}

	if !json.Valid(value) {
		return nil, fmt.Errorf("value is not JSON: %.40q", value)
	}
	return json.RawMessage(value), nil
}

func decodeKey(raw json.RawMessage) string {
	key := bytes.TrimSpace(raw)
	if len(key) == 0 || bytes.Equal(key, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(key, &s); err == nil {
		return s
	}
	return string(key)
}
