package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/vango-go/vai-shop/pkg/core"
)

const codeInvalidArguments = "invalid_arguments"

// decodeArgs converts loosely typed tool input into a request struct,
// rejecting unknown fields and type mismatches.
func decodeArgs(input map[string]any, out any) error {
	if input == nil {
		input = map[string]any{}
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return argError("", fmt.Sprintf("arguments are not valid JSON: %v", err))
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return argError(typeErr.Field, fmt.Sprintf("%s must be %s", typeErr.Field, jsonKind(typeErr.Type.Kind())))
	}
	msg := err.Error()
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		field = strings.Trim(field, `"`)
		return argError(field, fmt.Sprintf("unknown argument %q", field))
	}
	return argError("", fmt.Sprintf("invalid arguments: %s", strings.TrimPrefix(msg, "json: ")))
}

func jsonKind(k reflect.Kind) string {
	switch k {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "a list"
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	default:
		return "an object"
	}
}

func argError(param, msg string) *core.Error {
	return &core.Error{Type: core.ErrInvalidRequest, Message: msg, Param: param, Code: codeInvalidArguments}
}

func required(param, value string) error {
	if strings.TrimSpace(value) == "" {
		return argError(param, param+" is required")
	}
	return nil
}
