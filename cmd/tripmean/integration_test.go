package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vegasq/tripmean/internal/config"
	"github.com/vegasq/tripmean/internal/tripdata"
	"github.com/vegasq/tripmean/query"
)

// writeScenario creates a data directory holding the scenario trips
func writeScenario(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, tripdata.Write(filepath.Join(dir, "yellow_tripdata_2020-08.parquet"), tripdata.Scenario()))
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestMain_Query(t *testing.T) {
	dir := writeScenario(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "no bounds",
			args: []string{dir},
			want: "passenger_count: 1 => mean trip distance: 3.75\n" +
				"passenger_count: 2 => mean trip distance: 7.5\n",
		},
		{
			name: "start date",
			args: []string{"--start-date", "2020-08-01 00:23", dir},
			want: "passenger_count: 2 => mean trip distance: 7.5\n",
		},
		{
			name: "both bounds with seconds",
			args: []string{"--start-date", "2020-08-01T00:20:05", "--end-date", "2020-08-01T00:44:05Z", dir},
			want: "passenger_count: 1 => mean trip distance: 5\n" +
				"passenger_count: 2 => mean trip distance: 10\n",
		},
		{
			name: "empty window",
			args: []string{"--start-date", "2020-08-01 00:30", "--end-date", "2020-08-01 00:40", dir},
			want: "",
		},
		{
			name: "csv with parallel workers",
			args: []string{"-f", "csv", "--parallelism", "3", "--batch-size", "1", "--flush-every", "1", dir},
			want: "passenger_count,mean_trip_distance\n1,3.75\n2,7.5\n",
		},
		{
			name: "glob uri",
			args: []string{"--format", "json", filepath.Join(dir, "*.parquet")},
			want: `{"passenger_count":1,"mean_trip_distance":3.75}` + "\n" +
				`{"passenger_count":2,"mean_trip_distance":7.5}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, tt.args...)
			require.NoError(t, err)
			require.Equal(t, tt.want, stdout)
		})
	}
}

func TestMain_Errors(t *testing.T) {
	dir := writeScenario(t)

	tests := []struct {
		name     string
		args     []string
		wantErr  error
		wantCode int
	}{
		{name: "missing uri", args: nil, wantErr: config.ErrInvalidConfig, wantCode: 2},
		{name: "bad start date", args: []string{"--start-date", "yesterday", dir}, wantErr: query.ErrInvalidTimeRange, wantCode: 2},
		{name: "bad format", args: []string{"-f", "xml", dir}, wantErr: config.ErrInvalidConfig, wantCode: 2},
		{name: "zero parallelism", args: []string{"--parallelism", "0", dir}, wantErr: config.ErrInvalidConfig, wantCode: 2},
		{name: "no matching files", args: []string{"--pattern", "green_*.parquet", dir}, wantCode: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			require.Equal(t, tt.wantCode, exitCode(err))
		})
	}
}

func TestMain_ConfigFile(t *testing.T) {
	dir := writeScenario(t)
	path := filepath.Join(t.TempDir(), "tripmean.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset:\n  uri: \""+dir+"\"\nquery:\n  end: \"2020-08-01 00:45\"\noutput:\n  format: csv\n"), 0o644))

	stdout, _, err := execute(t, "--config", path)
	require.NoError(t, err)
	require.Equal(t, "passenger_count,mean_trip_distance\n1,3.75\n2,10\n", stdout)
}

func TestMain_MetricsFile(t *testing.T) {
	dir := writeScenario(t)
	metricsFile := filepath.Join(t.TempDir(), "tripmean.prom")

	_, stderr, err := execute(t, "--metrics-file", metricsFile, "--log-level", "debug", dir)
	require.NoError(t, err)
	require.Contains(t, stderr, "query_id=")
	require.Contains(t, stderr, "executing the plan")

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(data), `tripmean_queries_total{status="success"} 1`)
	require.Contains(t, string(data), "tripmean_scan_rows_total 4")
}

func TestMain_Schema(t *testing.T) {
	dir := writeScenario(t)

	stdout, _, err := execute(t, "schema", "-f", "json", dir)
	require.NoError(t, err)

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		var col map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &col))
		names = append(names, col["name"].(string))
	}
	require.ElementsMatch(t, []string{"VendorID", "tpep_pickup_datetime", "tpep_dropoff_datetime", "passenger_count", "trip_distance"}, names)
}
