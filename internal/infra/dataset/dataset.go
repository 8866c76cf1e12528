// Package dataset loads telemetry tables from CSV, JSON, JSON Lines and
// YAML files. Only the canonical feature columns are kept; anything else in
// a record is ignored.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synapseshield/shield/internal/domain"
)

// idKeys are the record keys accepted as a device identifier, in order of
// preference.
var idKeys = []string{"deviceId", "device_id", "id"}

// Load reads a dataset file, choosing the format from its extension.
func Load(path string) (domain.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return ReadCSV(f)
	case ".json":
		return ReadJSON(f)
	case ".jsonl", ".ndjson":
		return ReadJSONLines(f)
	case ".yaml", ".yml":
		return ReadYAML(f)
	default:
		return domain.Dataset{}, fmt.Errorf("unsupported dataset format %q", ext)
	}
}

// FromRecords picks the canonical feature columns out of loosely typed
// records. A record missing a feature is an ErrFeatureMismatch; a value that
// is not numeric is an ErrMalformedTelemetry.
func FromRecords(records []map[string]any) (domain.Dataset, error) {
	ds := domain.NewDataset()
	for i, rec := range records {
		row := domain.Row{ID: recordID(rec), Values: make([]float64, len(domain.Features))}
		for j, name := range domain.Features {
			raw, ok := rec[name]
			if !ok {
				return domain.Dataset{}, fmt.Errorf("row %d is missing %q: %w", i, name, domain.ErrFeatureMismatch)
			}
			v, err := domain.ToFloat(raw)
			if err != nil {
				return domain.Dataset{}, fmt.Errorf("row %d column %q: %v: %w", i, name, err, domain.ErrMalformedTelemetry)
			}
			row.Values[j] = v
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func recordID(rec map[string]any) string {
	for _, k := range idKeys {
		switch v := rec[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case int:
			return strconv.Itoa(v)
		}
	}
	return ""
}

// ─── JSON / YAML ────────────────────────────────────────────────────────────

// ReadJSON reads either a top-level array of records or an object with a
// "rows" array.
func ReadJSON(r io.Reader) (domain.Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return domain.Dataset{}, fmt.Errorf("decode json dataset: %v: %w", err, domain.ErrMalformedTelemetry)
	}
	records, err := recordList(doc)
	if err != nil {
		return domain.Dataset{}, err
	}
	return FromRecords(records)
}

// ReadJSONLines reads one JSON record per line. Blank lines are skipped.
func ReadJSONLines(r io.Reader) (domain.Dataset, error) {
	var records []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return domain.Dataset{}, fmt.Errorf("line %d: %v: %w", line, err, domain.ErrMalformedTelemetry)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return domain.Dataset{}, fmt.Errorf("read json lines: %w", err)
	}
	return FromRecords(records)
}

// ReadYAML reads the same shapes as ReadJSON from a YAML document.
func ReadYAML(r io.Reader) (domain.Dataset, error) {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return domain.NewDataset(), nil
		}
		return domain.Dataset{}, fmt.Errorf("decode yaml dataset: %v: %w", err, domain.ErrMalformedTelemetry)
	}
	records, err := recordList(doc)
	if err != nil {
		return domain.Dataset{}, err
	}
	return FromRecords(records)
}

func recordList(doc any) ([]map[string]any, error) {
	if obj, ok := doc.(map[string]any); ok {
		rows, found := obj["rows"]
		if !found {
			return nil, fmt.Errorf("object has no \"rows\" array: %w", domain.ErrMalformedTelemetry)
		}
		doc = rows
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of records, got %T: %w", doc, domain.ErrMalformedTelemetry)
	}
	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %d is %T, not an object: %w", i, item, domain.ErrMalformedTelemetry)
		}
		records = append(records, rec)
	}
	return records, nil
}
