package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/strata/mapping"
)

// recordView is the printed form of a record.
type recordView struct {
	ID         any            `json:"id" yaml:"id"`
	Generation int64          `json:"generation" yaml:"generation"`
	TTL        int64          `json:"ttl" yaml:"ttl"`
	Bins       map[string]any `json:"bins,omitempty" yaml:"bins,omitempty"`
}

func viewOf(rec *mapping.Record, now time.Time) (recordView, error) {
	v := recordView{ID: rec.Key.ID, Generation: rec.Generation, TTL: rec.TTL(now)}
	if len(rec.Bins) > 0 {
		if err := attributevalue.UnmarshalMap(rec.Bins, &v.Bins); err != nil {
			return v, fmt.Errorf("decode bins of %s: %w", rec.Key, err)
		}
	}
	return v, nil
}

func render(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseValue reads a YAML scalar, list or mapping into an attribute value,
// so 5 is a number, true a boolean and [a, b] a list.
func parseValue(s string) (types.AttributeValue, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("value %q: %w", s, err)
	}
	if v == nil && s != "~" && s != "null" {
		v = s
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value %q: %w", s, err)
	}
	return av, nil
}

// parseNative reads a YAML value into a Go value for query operands.
func parseNative(s string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("value %q: %w", s, err)
	}
	if v == nil {
		return s, nil
	}
	return v, nil
}

// parseDocument reads a YAML or JSON mapping into bins.
func parseDocument(s string) (map[string]types.AttributeValue, error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	bins, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return bins, nil
}

// splitPair splits "name=value".
func splitPair(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("expected name=value, got %q", s)
	}
	return name, value, nil
}
