// Package jsonbody decodes JSON report bodies sent by HTTP trackers and phone apps.
package jsonbody

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"fleettrack/internal/core/model"
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Name() string { return "json" }

func (d *Decoder) Match(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Decode flattens the top-level object. One level of nesting (e.g. "position": {"lat": ..})
// is merged in without overriding top-level keys.
func (d *Decoder) Decode(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", model.ErrUnsupportedEncoding, err)
	}

	fields := make(map[string]string, len(body))
	var nested []map[string]interface{}
	for k, v := range body {
		if obj, ok := v.(map[string]interface{}); ok {
			nested = append(nested, obj)
			continue
		}
		if s, ok := scalar(v); ok {
			fields[strings.ToLower(k)] = s
		}
	}
	for _, obj := range nested {
		for k, v := range obj {
			key := strings.ToLower(k)
			if _, exists := fields[key]; exists {
				continue
			}
			if s, ok := scalar(v); ok {
				fields[key] = s
			}
		}
	}
	return fields, nil
}

func scalar(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}
