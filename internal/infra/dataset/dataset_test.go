package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/synapseshield/shield/internal/domain"
)

func checkRows(t *testing.T, ds domain.Dataset, want []domain.Row) {
	t.Helper()
	if !slices.Equal(ds.Columns, domain.Features) {
		t.Errorf("Columns = %v, want %v", ds.Columns, domain.Features)
	}
	if len(ds.Rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(ds.Rows), len(want), ds.Rows)
	}
	for i := range want {
		if ds.Rows[i].ID != want[i].ID || !slices.Equal(ds.Rows[i].Values, want[i].Values) {
			t.Errorf("row %d = %+v, want %+v", i, ds.Rows[i], want[i])
		}
	}
}

// ─── CSV ────────────────────────────────────────────────────────────────────

func TestReadCSV(t *testing.T) {
	in := `timestamp,trafficVolume,deviceId,cpuUsage,failedLogins,networkPackets
2024-01-01,2000,dev-1,0.1,0,100
2024-01-01,2500,dev-2,0.3,1,150
2024-01-01,lots,dev-3,0.2,0,120
2024-01-01,3000,dev-4,0.9
`
	ds, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV() error: %v", err)
	}
	checkRows(t, ds, []domain.Row{
		{ID: "dev-1", Values: []float64{0.1, 100, 0, 2000}},
		{ID: "dev-2", Values: []float64{0.3, 150, 1, 2500}},
	})
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("cpuUsage,networkPackets,failedLogins\n0.1,100,0\n"))
	if !errors.Is(err, domain.ErrFeatureMismatch) {
		t.Errorf("ReadCSV() error = %v, want ErrFeatureMismatch", err)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	if !errors.Is(err, domain.ErrEmptyDataset) {
		t.Errorf("ReadCSV() error = %v, want ErrEmptyDataset", err)
	}
}

// ─── JSON ───────────────────────────────────────────────────────────────────

func TestReadJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"array", `[{"deviceId":"a","cpuUsage":0.1,"networkPackets":100,"failedLogins":0,"trafficVolume":2000,"extra":"x"},
			{"device_id":"b","cpuUsage":"0.3","networkPackets":150,"failedLogins":1,"trafficVolume":2500}]`},
		{"rows object", `{"rows":[{"deviceId":"a","cpuUsage":0.1,"networkPackets":100,"failedLogins":0,"trafficVolume":2000},
			{"device_id":"b","cpuUsage":0.3,"networkPackets":150,"failedLogins":1,"trafficVolume":2500}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ReadJSON(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("ReadJSON() error: %v", err)
			}
			checkRows(t, ds, []domain.Row{
				{ID: "a", Values: []float64{0.1, 100, 0, 2000}},
				{ID: "b", Values: []float64{0.3, 150, 1, 2500}},
			})
		})
	}
}

func TestReadJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `nope`, domain.ErrMalformedTelemetry},
		{"scalar", `42`, domain.ErrMalformedTelemetry},
		{"object without rows", `{"data":[]}`, domain.ErrMalformedTelemetry},
		{"row not object", `[1]`, domain.ErrMalformedTelemetry},
		{"non numeric", `[{"cpuUsage":true,"networkPackets":1,"failedLogins":1,"trafficVolume":1}]`, domain.ErrMalformedTelemetry},
		{"null value", `[{"cpuUsage":null,"networkPackets":1,"failedLogins":1,"trafficVolume":1}]`, domain.ErrMalformedTelemetry},
		{"missing column", `[{"cpuUsage":1,"networkPackets":1,"failedLogins":1}]`, domain.ErrFeatureMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadJSON(strings.NewReader(tt.in)); !errors.Is(err, tt.want) {
				t.Errorf("ReadJSON() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadJSON_EmptyArray(t *testing.T) {
	ds, err := ReadJSON(strings.NewReader(`[]`))
	if err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if ds.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ds.Len())
	}
	if !errors.Is(ds.Validate(), domain.ErrEmptyDataset) {
		t.Error("empty dataset should fail validation")
	}
}

func TestReadJSONLines(t *testing.T) {
	in := `{"deviceId":"a","cpuUsage":0.1,"networkPackets":100,"failedLogins":0,"trafficVolume":2000}

{"deviceId":"b","cpuUsage":0.3,"networkPackets":150,"failedLogins":1,"trafficVolume":2500}
`
	ds, err := ReadJSONLines(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadJSONLines() error: %v", err)
	}
	checkRows(t, ds, []domain.Row{
		{ID: "a", Values: []float64{0.1, 100, 0, 2000}},
		{ID: "b", Values: []float64{0.3, 150, 1, 2500}},
	})

	if _, err := ReadJSONLines(strings.NewReader("{\"cpuUsage\":\n")); !errors.Is(err, domain.ErrMalformedTelemetry) {
		t.Errorf("truncated line error = %v, want ErrMalformedTelemetry", err)
	}
}

// ─── YAML ───────────────────────────────────────────────────────────────────

func TestReadYAML(t *testing.T) {
	in := `rows:
  - deviceId: a
    cpuUsage: 0.1
    networkPackets: 100
    failedLogins: 0
    trafficVolume: 2000
  - id: 7
    cpuUsage: 0.3
    networkPackets: 150
    failedLogins: 1
    trafficVolume: 2500.5
`
	ds, err := ReadYAML(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadYAML() error: %v", err)
	}
	checkRows(t, ds, []domain.Row{
		{ID: "a", Values: []float64{0.1, 100, 0, 2000}},
		{ID: "7", Values: []float64{0.3, 150, 1, 2500.5}},
	})
}

func TestReadYAML_Invalid(t *testing.T) {
	if _, err := ReadYAML(strings.NewReader("rows: [unclosed")); !errors.Is(err, domain.ErrMalformedTelemetry) {
		t.Errorf("ReadYAML() error = %v, want ErrMalformedTelemetry", err)
	}
}

// ─── Load ───────────────────────────────────────────────────────────────────

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"data.csv":   "deviceId,cpuUsage,networkPackets,failedLogins,trafficVolume\na,0.1,100,0,2000\n",
		"data.json":  `[{"deviceId":"a","cpuUsage":0.1,"networkPackets":100,"failedLogins":0,"trafficVolume":2000}]`,
		"data.jsonl": `{"deviceId":"a","cpuUsage":0.1,"networkPackets":100,"failedLogins":0,"trafficVolume":2000}` + "\n",
		"data.YML":   "- {deviceId: a, cpuUsage: 0.1, networkPackets: 100, failedLogins: 0, trafficVolume: 2000}\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			ds, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			checkRows(t, ds, []domain.Row{{ID: "a", Values: []float64{0.1, 100, 0, 2000}}})
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("Load(missing) should fail")
	}
	path := filepath.Join(dir, "data.parquet")
	os.WriteFile(path, []byte("x"), 0o644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Load(parquet) error = %v, want unsupported format", err)
	}
}
