package txeventq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ConsumeDirect dequeues through the consume-direct PL/SQL procedure exposed by ORDS.
// ORDS wraps procedure output as {"items":[{"result":"<json>"}]}; a body without
// items is taken as the result itself.
func (c *Client) ConsumeDirect(ctx context.Context, req ConsumeDirectRequest) (*DirectResult, error) {
	body, err := c.do(ctx, "consume_direct", http.MethodPost, c.ConsumeDirectURL(), req, c.publishTimeout)
	if err != nil {
		return nil, err
	}

	var envelope ordsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode ords response: %w", err)
	}

	result := json.RawMessage(body)
	if len(envelope.Items) > 0 {
		result, err = unwrapResult(envelope.Items[0].Result)
		if err != nil {
			return nil, err
		}
	}

	var out DirectResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to decode procedure result: %w", err)
	}
	out.Result = result
	out.Envelope = body
	return &out, nil
}

// Enqueue publishes through the publish PL/SQL procedure
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	body, err := c.do(ctx, "enqueue", http.MethodPost, c.ordsURL+"/publish", req, c.publishTimeout)
	if err != nil {
		return nil, err
	}

	var out EnqueueResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode enqueue response: %w", err)
	}
	out.Raw = body
	return &out, nil
}

// unwrapResult accepts the procedure result either as an object or as a
// JSON-encoded string. A missing result is an empty object.
func unwrapResult(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}"), nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode procedure result: %w", err)
	}
	if s == "" {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(s), nil
}
