package backoffice

import (
	"encoding/json"
	"errors"

	"github.com/appetiteclub/apt"
)

// decodeSuccessResponse copies the dynamic response payload into dest,
// unwrapping any success/data envelope the upstream wrapped it in. This is
// the single place envelope variability is absorbed; nothing past this
// helper branches on response shape.
func decodeSuccessResponse(resp *apt.SuccessResponse, dest interface{}) error {
	if resp == nil {
		return &MalformedDataError{Err: errors.New("nil success response")}
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return &MalformedDataError{Err: err}
	}

	if err := json.Unmarshal(unwrapEnvelope(raw), dest); err != nil {
		return &MalformedDataError{Err: err}
	}

	return nil
}

// unwrapEnvelope peels nested {"success": ..., "data": ...} (or
// {"status": ..., "data": ...}) envelopes until the actual payload is
// reached. Anything that is not such an envelope passes through untouched.
func unwrapEnvelope(raw json.RawMessage) json.RawMessage {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return raw
	}

	data, ok := probe["data"]
	if !ok {
		return raw
	}
	if _, ok := probe["success"]; ok {
		return unwrapEnvelope(data)
	}
	if _, ok := probe["status"]; ok {
		return unwrapEnvelope(data)
	}
	return raw
}
