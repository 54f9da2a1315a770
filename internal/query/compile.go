package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Node is one element of the PuppetDB AST query language. A leaf looks like
// ["=", ["fact", "osfamily"], "Debian"]; combinators are ["and", ...] and
// ["not", node].
type Node []any

const factsType = "facts"

var operators = map[string]string{
	"eq": "=",
	"gt": ">",
	"lt": "<",
	"ge": ">=",
	"le": "<=",
}

var (
	ErrUnsupportedQueryType = errors.New("unsupported query type")
	ErrMalformedConstraint  = errors.New("malformed constraint key")
	ErrUnknownOperator      = errors.New("unknown operator")
)

// CompileError reports the constraint key that could not be compiled.
type CompileError struct {
	Key string
	Err error
}

func (e *CompileError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnsupportedQueryType):
		typ, _, _ := strings.Cut(e.Key, ".")
		return fmt.Sprintf("fact search against keys of type '%s' is unsupported", typ)
	case errors.Is(e.Err, ErrUnknownOperator):
		return fmt.Sprintf("constraint %q: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("constraint %q: %v (want type.name or type.name.operator)", e.Key, e.Err)
	}
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compile turns a flat constraint map of the form
//
//	{"facts.<name>.<operator>": value}
//
// into an AST query. The operator defaults to eq and may be one of eq, ne,
// lt, gt, le, ge. Keys are sorted first so equal inputs always compile to
// the same query, and the result is always wrapped in a top-level "and".
func Compile(constraints map[string]any) (Node, error) {
	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := Node{"and"}
	for _, key := range keys {
		filter, err := compileConstraint(key, constraints[key])
		if err != nil {
			return nil, err
		}
		query = append(query, filter)
	}
	return query, nil
}

func compileConstraint(key string, value any) (Node, error) {
	parts := strings.Split(key, ".")
	if parts[0] != factsType {
		return nil, &CompileError{Key: key, Err: ErrUnsupportedQueryType}
	}
	if len(parts) < 2 || len(parts) > 3 {
		return nil, &CompileError{Key: key, Err: ErrMalformedConstraint}
	}
	name := parts[1]
	if name == "" {
		return nil, &CompileError{Key: key, Err: ErrMalformedConstraint}
	}

	op := "eq"
	if len(parts) == 3 {
		op = parts[2]
	}

	if op == "ne" {
		return Node{"not", Node{"=", Node{"fact", name}, value}}, nil
	}
	symbol, ok := operators[op]
	if !ok {
		return nil, &CompileError{Key: key, Err: fmt.Errorf("%w %q", ErrUnknownOperator, op)}
	}
	return Node{symbol, Node{"fact", name}, value}, nil
}

// JSON serializes the query without HTML escaping, so operators such as
// ">=" travel as written.
func (n Node) JSON() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(n); err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Escape returns the query serialized and percent-encoded for use as the
// value of a "query" URL parameter.
func (n Node) Escape() (string, error) {
	s, err := n.JSON()
	if err != nil {
		return "", err
	}
	return url.QueryEscape(s), nil
}

// ParseConstraint splits a command-line constraint "facts.name.op=value".
// The value is decoded as JSON when possible so numbers and booleans compare
// as such; anything else is kept as a string.
func ParseConstraint(arg string) (string, any, error) {
	key, raw, ok := strings.Cut(arg, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("constraint %q: expected key=value", arg)
	}
	var value any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil || dec.More() {
		return key, raw, nil
	}
	return key, value, nil
}
