package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

// ErrSchemaViolation marks output that could not be decoded into the
// expected structure even after repair.
var ErrSchemaViolation = errors.New("llm output violates schema")

// Stage records which decode pass produced a Result.
type Stage int

const (
	Strict Stage = iota + 1
	Lenient
)

// Result is the outcome of Decode. Err is nil when Value is usable.
type Result[T any] struct {
	Value T
	Stage Stage
	Err   error
}

// Decode first parses raw as exactly one JSON document with no unknown
// fields. If that fails it extracts the first balanced JSON value from the
// text (fences and prose stripped) and parses it permissively.
func Decode[T any](raw string) Result[T] {
	var strict T
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&strict); err == nil && !dec.More() {
		return Result[T]{Value: strict, Stage: Strict}
	}

	extracted, err := helpers.ExtractJSON(raw)
	if err != nil {
		return Result[T]{Stage: Lenient, Err: fmt.Errorf("%w: %v", ErrSchemaViolation, err)}
	}
	var lenient T
	if err := json.Unmarshal(bytes.TrimSpace([]byte(extracted)), &lenient); err != nil {
		return Result[T]{Stage: Lenient, Err: fmt.Errorf("%w: %v", ErrSchemaViolation, err)}
	}
	return Result[T]{Value: lenient, Stage: Lenient}
}
