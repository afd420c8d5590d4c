package tools

import (
	"fmt"
	"strconv"
	"time"

	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
)

func argString(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", sctxerrors.Validation(fmt.Sprintf("%q is required", key))
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", sctxerrors.Validation(fmt.Sprintf("%q must be a string", key))
	}
	return s, nil
}

func argOptionalStringPtr(args map[string]any, key string) (*string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, sctxerrors.Validation(fmt.Sprintf("%q must be a string", key))
	}
	return &s, nil
}

func argInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, sctxerrors.Validation(fmt.Sprintf("%q must be a number", key))
	}
}

func argInt64(args map[string]any, key string, def int64) (int64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, sctxerrors.Validation(fmt.Sprintf("%q must be a number", key))
	}
}

// argIntLoose accepts a number or a numeric string for key, coercing either
// into an int. Used for fields the spec documents as "integer-or-string".
func argIntLoose(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, sctxerrors.Validation(fmt.Sprintf("%q must be an integer or a numeric string", key))
		}
		return parsed, nil
	default:
		return 0, sctxerrors.Validation(fmt.Sprintf("%q must be an integer or a numeric string", key))
	}
}

func argFloat64(args map[string]any, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, sctxerrors.Validation(fmt.Sprintf("%q must be a number", key))
	}
}

func argBool(args map[string]any, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, sctxerrors.Validation(fmt.Sprintf("%q must be a boolean", key))
	}
	return b, nil
}

func argObject(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, sctxerrors.Validation(fmt.Sprintf("%q must be an object", key))
	}
	return m, nil
}

func argTime(args map[string]any, key string, required bool) (time.Time, error) {
	s, err := argString(args, key, required)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, sctxerrors.Validation(fmt.Sprintf("%q must be an RFC3339 timestamp", key))
	}
	return t, nil
}
