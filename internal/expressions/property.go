package expressions

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/pagepilot/pkg/schema"
)

const (
	getPropertyProgram = "getpath($path)"
	setPropertyProgram = "setpath($path; $value)"
)

// PropertyPath splits a dotted property name into a jq path. Segments in
// square brackets are array indexes: "items[0].title" -> ["items", 0, "title"].
func PropertyPath(name string) ([]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "property name is empty")
	}

	var path []any
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid property name %q", name)
		}
		key := part
		var idx []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			rest := part[open:]
			for rest != "" {
				end := strings.IndexByte(rest, ']')
				if rest[0] != '[' || end < 0 {
					return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid property name %q", name)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid index in property name %q", name)
				}
				idx = append(idx, n)
				rest = rest[end+1:]
			}
		}
		if key != "" {
			path = append(path, key)
		}
		for _, n := range idx {
			path = append(path, n)
		}
	}
	if len(path) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid property name %q", name)
	}
	return path, nil
}

// GetProperty reads a property of a JSON document. A missing property fails
// with NOT_FOUND. Non-string values are returned re-encoded as JSON.
func (e *GoJQEngine) GetProperty(ctx context.Context, document, name string) (string, error) {
	doc, err := decodeDocument(document)
	if err != nil {
		return "", err
	}
	path, err := PropertyPath(name)
	if err != nil {
		return "", err
	}

	val, err := e.Evaluate(ctx, getPropertyProgram, doc, map[string]any{"path": path})
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "property %q not found", name)
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecutorFailure, "encode property %q", name).WithCause(err)
	}
	return string(b), nil
}

// SetProperty writes value at the property path and returns the updated
// document. A value that parses as JSON is stored decoded; anything else is
// stored as a string.
func (e *GoJQEngine) SetProperty(ctx context.Context, document, name, value string) (string, error) {
	doc, err := decodeDocument(document)
	if err != nil {
		return "", err
	}
	path, err := PropertyPath(name)
	if err != nil {
		return "", err
	}

	var decoded any = value
	var v any
	if json.Unmarshal([]byte(value), &v) == nil {
		decoded = v
	}

	out, err := e.Evaluate(ctx, setPropertyProgram, doc, map[string]any{"path": path, "value": decoded})
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExecutorFailure, "encode updated document").WithCause(err)
	}
	return string(b), nil
}

func decodeDocument(document string) (any, error) {
	var doc any
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "document is not valid JSON").WithCause(err)
	}
	return doc, nil
}
