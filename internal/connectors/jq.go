package connectors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// query — скомпилированное jq-выражение.
type query struct {
	src  string
	code *gojq.Code
}

// compileQuery разбирает и компилирует выражение.
// Пустое выражение означает ".".
func compileQuery(expr string) (*query, error) {
	if expr == "" {
		expr = "."
	}
	parsed, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: parse jq %q: %w", ErrInvalidProps, expr, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: compile jq %q: %w", ErrInvalidProps, expr, err)
	}
	return &query{src: expr, code: code}, nil
}

// all возвращает все результаты выражения.
func (q *query) all(ctx context.Context, input any) ([]any, error) {
	iter := q.code.RunWithContext(ctx, input)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := v.(error); isErr {
			if _, halt := err.(*gojq.HaltError); halt {
				return out, nil
			}
			return nil, fmt.Errorf("jq %q: %w", q.src, err)
		}
		out = append(out, v)
	}
}

// first возвращает первый результат выражения или nil.
func (q *query) first(ctx context.Context, input any) (any, error) {
	iter := q.code.RunWithContext(ctx, input)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("jq %q: %w", q.src, err)
	}
	return v, nil
}

// flatten разворачивает единственный результат-массив в список элементов.
// ".data" и ".data[]" дают одинаковый результат.
func flatten(results []any) []any {
	if len(results) == 1 {
		if arr, ok := results[0].([]any); ok {
			return arr
		}
	}
	return results
}

// decodeJSON разбирает тело в значения, понятные gojq.
func decodeJSON(body []byte) (any, error) {
	var v any
	if len(body) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return v, nil
}
