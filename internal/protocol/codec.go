package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// EncodeRequest serializes a command and its keyword arguments into a flat
// JSON object. Returns an EncodingError if any value is not representable.
func EncodeRequest(command string, args Args) ([]byte, error) {
	if command == "" {
		return nil, &EncodingError{Key: CommandKey, Reason: "command name is empty"}
	}

	envelope := make(map[string]any, len(args)+1)
	for _, key := range sortedKeys(args) {
		if key == CommandKey {
			return nil, &EncodingError{Key: key, Reason: "reserved key used as argument"}
		}
		if err := checkValue(key, args[key]); err != nil {
			return nil, err
		}
		envelope[key] = args[key]
	}
	envelope[CommandKey] = command

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, &EncodingError{Reason: err.Error()}
	}
	return data, nil
}

// DecodeRequest parses a request envelope and splits off the command name.
// The returned Args never contains the "command" key.
func DecodeRequest(data []byte) (string, Args, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", nil, &DecodingError{Reason: "empty payload"}
	}

	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, &DecodingError{Reason: "payload is not a JSON object", Err: err}
	}
	if envelope == nil {
		return "", nil, &DecodingError{Reason: "payload is not a JSON object"}
	}

	raw, ok := envelope[CommandKey]
	if !ok {
		return "", nil, &DecodingError{Reason: "missing required field: command"}
	}
	command, ok := raw.(string)
	if !ok {
		return "", nil, &DecodingError{Reason: fmt.Sprintf("command must be a string, got %T", raw)}
	}
	if command == "" {
		return "", nil, &DecodingError{Reason: "command is empty"}
	}

	delete(envelope, CommandKey)
	return command, Args(envelope), nil
}

// EncodeResponse serializes a response envelope.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, &EncodingError{Reason: "nil response"}
	}
	if _, ok := resp.Output.([]byte); ok && resp.Success {
		return nil, &EncodingError{Key: "output", Reason: "binary data must be referenced by file name"}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, &EncodingError{Reason: err.Error()}
	}
	return data, nil
}

// DecodeResponse parses and validates a response envelope.
func DecodeResponse(data []byte) (*Response, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &DecodingError{Reason: "empty payload"}
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &DecodingError{Reason: "invalid response", Err: err}
	}
	return &resp, nil
}

// checkValue walks v and rejects anything the JSON wire format cannot carry
// faithfully. Binary blobs are rejected so they travel by file name instead.
func checkValue(key string, v any) error {
	switch val := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint16, uint32, uint64:
		return nil
	case float64:
		return checkFloat(key, val)
	case float32:
		return checkFloat(key, float64(val))
	case []byte:
		return &EncodingError{Key: key, Reason: "binary data must be referenced by file name"}
	case []string, []int, []float64, []bool:
		return nil
	case []any:
		for i, elem := range val {
			if err := checkValue(fmt.Sprintf("%s[%d]", key, i), elem); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, k := range sortedKeys(val) {
			if err := checkValue(key+"."+k, val[k]); err != nil {
				return err
			}
		}
		return nil
	case Args:
		return checkValue(key, map[string]any(val))
	case map[string]string:
		return nil
	default:
		if m, ok := v.(json.Marshaler); ok {
			if _, err := m.MarshalJSON(); err != nil {
				return &EncodingError{Key: key, Reason: err.Error()}
			}
			return nil
		}
		return &EncodingError{Key: key, Reason: fmt.Sprintf("unsupported value type %T", v)}
	}
}

func checkFloat(key string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &EncodingError{Key: key, Reason: "non-finite number"}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
