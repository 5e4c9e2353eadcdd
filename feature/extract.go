// Package feature decodes the GeoJSON feed body into earthquake records.
//
// Malformed features are handled by an explicit policy. The default skips the
// offending element, logs it and continues with the next one; Strict rejects
// the whole body on the first malformed element.
package feature

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/st-keller/quakefeed-client/earthquake"
	"github.com/st-keller/quakefeed-client/standard"
)

// Extractor turns a feed body into a Result.
type Extractor struct {
	// Strict aborts on the first malformed feature and discards every record.
	Strict bool

	// Logs receives one entry per skipped feature. Nil discards.
	Logs *standard.RecentLogs
}

// Extract decodes body with the default skip-and-continue policy.
func Extract(body string) earthquake.Result {
	return Extractor{}.Extract(body)
}

type feature struct {
	Properties *properties `json:"properties"`
}

type properties struct {
	Mag   *float64 `json:"mag"`
	Place *string  `json:"place"`
	Time  *int64   `json:"time"`
	URL   *string  `json:"url"`
}

// SkipError describes one feature dropped during extraction.
type SkipError struct {
	Index int
	Err   error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("feature %d: %v", e.Index, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// Extract decodes body into records in feed order.
func (x Extractor) Extract(body string) earthquake.Result {
	data := bytes.TrimSpace([]byte(body))
	if len(data) == 0 {
		return parseFailure(errors.New("empty body"))
	}
	if data[0] != '{' {
		return parseFailure(errors.New("top level is not a JSON object"))
	}

	// Decode into a map first so a missing key can be told apart from an empty array.
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return parseFailure(fmt.Errorf("decode body: %w", err))
	}
	rawFeatures, ok := top["features"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawFeatures), []byte("null")) {
		return parseFailure(errors.New(`"features" array missing`))
	}

	var features []json.RawMessage
	if err := json.Unmarshal(rawFeatures, &features); err != nil {
		return parseFailure(fmt.Errorf(`decode "features": %w`, err))
	}

	records := make([]earthquake.Record, 0, len(features))
	skipped := 0
	for i, raw := range features {
		rec, err := decodeFeature(raw)
		if err != nil {
			skip := &SkipError{Index: i, Err: err}
			if x.Strict {
				return parseFailure(skip)
			}
			skipped++
			if x.Logs != nil {
				x.Logs.WarnNoTrigger("Skipping malformed feature", map[string]interface{}{
					"index": i,
					"error": err.Error(),
				})
			}
			continue
		}
		records = append(records, rec)
	}

	return earthquake.Succeeded(records, skipped)
}

func decodeFeature(raw json.RawMessage) (earthquake.Record, error) {
	var f feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return earthquake.Record{}, fmt.Errorf("decode: %w", err)
	}
	p := f.Properties
	if p == nil {
		return earthquake.Record{}, errors.New(`"properties" missing`)
	}

	switch {
	case p.Mag == nil:
		return earthquake.Record{}, errors.New(`"mag" missing`)
	case p.Place == nil:
		return earthquake.Record{}, errors.New(`"place" missing`)
	case p.Time == nil:
		return earthquake.Record{}, errors.New(`"time" missing`)
	case p.URL == nil:
		return earthquake.Record{}, errors.New(`"url" missing`)
	}

	return earthquake.New(*p.Mag, *p.Place, *p.Time, *p.URL)
}

func parseFailure(err error) earthquake.Result {
	return earthquake.Failed(earthquake.ParseError, fmt.Errorf("%w: %w", earthquake.ErrParse, err))
}
