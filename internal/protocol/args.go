package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Only rejects keyword arguments outside the allowed set.
func (a Args) Only(allowed ...string) error {
	permitted := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		permitted[k] = struct{}{}
	}
	for _, k := range sortedKeys(a) {
		if _, ok := permitted[k]; !ok {
			return &ArgumentError{Key: k, Reason: "unexpected keyword argument"}
		}
	}
	return nil
}

// Require checks that every key is present and non-nil.
func (a Args) Require(keys ...string) error {
	for _, k := range keys {
		if v, ok := a[k]; !ok || v == nil {
			return &ArgumentError{Key: k, Reason: "missing required argument"}
		}
	}
	return nil
}

// Has reports whether key is present and non-nil.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", &ArgumentError{Key: key, Reason: "missing required argument"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgumentError{Key: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

// StringOr returns a string argument, or def when absent.
func (a Args) StringOr(key, def string) (string, error) {
	if !a.Has(key) {
		return def, nil
	}
	return a.String(key)
}

// Int returns an integer argument, or def when absent. Numeric strings are
// accepted since form-driven callers send "1024".
func (a Args) Int(key string, def int) (int, error) {
	if !a.Has(key) {
		return def, nil
	}
	switch v := a[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected integer, got %v", v)}
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &ArgumentError{Key: key, Reason: err.Error()}
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, &ArgumentError{Key: key, Reason: fmt.Sprintf("invalid integer %q", v)}
		}
		return n, nil
	default:
		return 0, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected integer, got %T", v)}
	}
}

// Float returns a numeric argument, or def when absent.
func (a Args) Float(key string, def float64) (float64, error) {
	if !a.Has(key) {
		return def, nil
	}
	switch v := a[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, &ArgumentError{Key: key, Reason: err.Error()}
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &ArgumentError{Key: key, Reason: fmt.Sprintf("invalid number %q", v)}
		}
		return f, nil
	default:
		return 0, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected number, got %T", v)}
	}
}

// Bool returns a boolean argument, or def when absent.
func (a Args) Bool(key string, def bool) (bool, error) {
	if !a.Has(key) {
		return def, nil
	}
	switch v := a[key].(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, &ArgumentError{Key: key, Reason: fmt.Sprintf("invalid boolean %q", v)}
		}
		return b, nil
	case float64:
		return v != 0, nil
	default:
		return false, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected boolean, got %T", v)}
	}
}

// ParseArgs turns "key=value" pairs into Args. Values that parse as JSON
// scalars (numbers, true/false, null) keep their type; everything else is a
// string.
func ParseArgs(pairs []string) (Args, error) {
	args := make(Args, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid argument %q (want key=value)", pair)
		}
		key = strings.TrimSpace(key)
		if key == CommandKey {
			return nil, fmt.Errorf("argument name %q is reserved", key)
		}
		args[key] = scalar(value)
	}
	return args, nil
}

func scalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}
