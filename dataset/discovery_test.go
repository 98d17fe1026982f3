package dataset

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func fragmentPaths(fragments []Fragment) []string {
	paths := make([]string, len(fragments))
	for i, f := range fragments {
		paths[i] = f.Path()
	}
	return paths
}

func TestDiscover_Local(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "2020", "yellow_tripdata_2020-09.parquet"))
	touch(t, filepath.Join(dir, "2020", "yellow_tripdata_2020-08.parquet"))
	touch(t, filepath.Join(dir, "2021", "yellow_tripdata_2021-01.parquet"))
	touch(t, filepath.Join(dir, "2020", "green_tripdata_2020-08.parquet"))
	touch(t, filepath.Join(dir, "notes.txt"))

	tests := []struct {
		name    string
		src     Source
		want    []string
		wantErr error
	}{
		{
			name: "directory with default pattern",
			src:  Source{URI: dir},
			want: []string{
				filepath.Join(dir, "2020", "yellow_tripdata_2020-08.parquet"),
				filepath.Join(dir, "2020", "yellow_tripdata_2020-09.parquet"),
				filepath.Join(dir, "2021", "yellow_tripdata_2021-01.parquet"),
			},
		},
		{
			name: "directory with custom pattern",
			src:  Source{URI: dir, Pattern: "green_*.parquet"},
			want: []string{filepath.Join(dir, "2020", "green_tripdata_2020-08.parquet")},
		},
		{
			name: "glob",
			src:  Source{URI: filepath.Join(dir, "2020", "*.parquet")},
			want: []string{
				filepath.Join(dir, "2020", "green_tripdata_2020-08.parquet"),
				filepath.Join(dir, "2020", "yellow_tripdata_2020-08.parquet"),
				filepath.Join(dir, "2020", "yellow_tripdata_2020-09.parquet"),
			},
		},
		{
			name: "single file ignores pattern",
			src:  Source{URI: filepath.Join(dir, "notes.txt")},
			want: []string{filepath.Join(dir, "notes.txt")},
		},
		{
			name:    "nothing matches",
			src:     Source{URI: dir, Pattern: "fhv_*.parquet"},
			wantErr: ErrNoFragments,
		},
		{
			name:    "empty uri",
			src:     Source{},
			wantErr: ErrNoFragments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Discover(context.Background(), tt.src)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, fragmentPaths(got))
		})
	}
}

func TestDiscover_Limits(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "yellow_tripdata_2020-08.parquet"))
	touch(t, filepath.Join(dir, "yellow_tripdata_2020-09.parquet"))

	_, err := Discover(context.Background(), Source{URI: dir, MaxFragments: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "too many files")

	_, err = Discover(context.Background(), Source{URI: dir, Pattern: "["})
	require.Error(t, err)

	_, err = Discover(context.Background(), Source{URI: filepath.Join(dir, "missing")})
	require.Error(t, err)
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"s3://nyc-tlc/trip-data/", "nyc-tlc", "trip-data/", false},
		{"s3://bucket", "bucket", "", false},
		{"s3:///prefix", "", "", true},
		{"gs://bucket/prefix", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := parseS3URI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantBucket, bucket)
			require.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestNewS3Client(t *testing.T) {
	mc, err := NewS3Client(S3Options{Endpoint: "localhost:9000", AccessKey: "minio", SecretKey: "minio123", Insecure: true})
	require.NoError(t, err)
	require.Equal(t, "localhost:9000", mc.EndpointURL().Host)
	require.Equal(t, "http", mc.EndpointURL().Scheme)

	f := &S3Fragment{client: mc, bucket: "trips", key: "2020/yellow_tripdata_2020-08.parquet"}
	require.Equal(t, "s3://trips/2020/yellow_tripdata_2020-08.parquet", f.Path())
}

func TestDiscoverS3_ListError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
			`<Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	opts := S3Options{Endpoint: u.Host, AccessKey: "minio", SecretKey: "minio123", Region: "us-east-1", Insecure: true}

	fragments, err := discoverS3(context.Background(), "s3://trips/2020/", "*.parquet", opts)
	require.Error(t, err)
	require.Nil(t, fragments)
	require.Contains(t, err.Error(), "list s3://trips/2020/")
}
