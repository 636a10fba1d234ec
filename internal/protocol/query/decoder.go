// Package query decodes query-string and form-encoded reports
// (GET /receive?imei=..&lat=..&lon=.. style trackers).
package query

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"fleettrack/internal/core/model"
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Name() string { return "query" }

func (d *Decoder) Match(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.Contains(trimmed, []byte("=")) || bytes.ContainsAny(trimmed, "\n{}") {
		return false
	}
	_, err := url.ParseQuery(string(bytes.TrimPrefix(trimmed, []byte("?"))))
	return err == nil
}

// Decode keeps the first value of every key.
func (d *Decoder) Decode(raw []byte) (map[string]string, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(string(raw)), "?"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid query string: %v", model.ErrUnsupportedEncoding, err)
	}
	fields := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if _, exists := fields[key]; !exists {
			fields[key] = vs[0]
		}
	}
	return fields, nil
}
