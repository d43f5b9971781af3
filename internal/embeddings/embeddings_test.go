package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

type countingProvider struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (p *countingProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	time.Sleep(p.delay)
	if p.err != nil {
		return nil, p.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (p *countingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := p.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *countingProvider) Model() string  { return "counting" }
func (p *countingProvider) Dimension() int { return 2 }
func (p *countingProvider) Close() error   { return nil }

func TestLookupModel(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		wantHF  string
		wantDim int
		wantErr bool
	}{
		{"default", "", DefaultModel, 384, false},
		{"hugging face name", "BAAI/bge-base-en-v1.5", "BAAI/bge-base-en-v1.5", 768, false},
		{"fastembed name", "fast-all-MiniLM-L6-v2", "sentence-transformers/all-MiniLM-L6-v2", 384, false},
		{"unknown", "openai/text-embedding-3", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hf, info, err := lookupModel(tt.model)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), DefaultModel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHF, hf)
			assert.Equal(t, tt.wantDim, info.dimension)
		})
	}

	dim, err := ModelDimension("BAAI/bge-small-zh-v1.5")
	require.NoError(t, err)
	assert.Equal(t, 512, dim)
}

func TestCachedProvider(t *testing.T) {
	backend := &countingProvider{}
	c, err := NewCachedProvider(backend, 2, nil)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := c.EmbedQuery(ctx, "is it alive?")
	require.NoError(t, err)
	v1[0] = -1
	v2, err := c.EmbedQuery(ctx, "is it alive?")
	require.NoError(t, err)

	assert.Equal(t, []float32{12, 1}, v2, "cached vector must not alias caller copies")
	assert.EqualValues(t, 1, backend.calls.Load())

	_, _ = c.EmbedQuery(ctx, "a")
	_, _ = c.EmbedQuery(ctx, "b")
	assert.Equal(t, 2, c.Len())
	_, _ = c.EmbedQuery(ctx, "is it alive?")
	assert.EqualValues(t, 4, backend.calls.Load(), "least recently used entry is evicted")

	require.NoError(t, c.Close())
	assert.Zero(t, c.Len())
}

func TestCachedProvider_CollapsesConcurrentMisses(t *testing.T) {
	backend := &countingProvider{delay: 20 * time.Millisecond}
	c, err := NewCachedProvider(backend, 16, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.EmbedQuery(context.Background(), "does it fly?")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, backend.calls.Load())
}

// gatedProvider blocks every embedding until release is closed or ctx ends.
type gatedProvider struct {
	countingProvider
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	close(p.started)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.release:
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedProvider_CallerCancelDoesNotFailOthers(t *testing.T) {
	backend := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	c, err := NewCachedProvider(backend, 4, nil)
	require.NoError(t, err)

	type result struct {
		vec []float32
		err error
	}
	embed := func(ctx context.Context) <-chan result {
		ch := make(chan result, 1)
		go func() {
			vec, err := c.EmbedQuery(ctx, "is it alive?")
			ch <- result{vec, err}
		}()
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := embed(ctx)
	<-backend.started
	second := embed(context.Background())
	time.Sleep(20 * time.Millisecond)

	cancel()
	r := <-first
	assert.ErrorIs(t, r.err, context.Canceled)

	close(backend.release)
	r = <-second
	require.NoError(t, r.err)
	assert.Equal(t, []float32{12, 1}, r.vec)
	assert.EqualValues(t, 1, backend.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCachedProvider_ErrorsNotCached(t *testing.T) {
	backend := &countingProvider{err: errors.New("onnx failure")}
	c, err := NewCachedProvider(backend, 4, nil)
	require.NoError(t, err)

	_, err = c.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	_, err = c.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.EqualValues(t, 2, backend.calls.Load())
	assert.Zero(t, c.Len())
}

func TestNewCachedProvider_InvalidSize(t *testing.T) {
	_, err := NewCachedProvider(&countingProvider{}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInstrumented_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), zap.NewNop())
	ctx := context.Background()

	ok := Instrument(&countingProvider{}, m)
	_, err := ok.EmbedQuery(ctx, "q")
	require.NoError(t, err)
	_, err = ok.EmbedDocuments(ctx, []string{"a", "b"})
	require.NoError(t, err)

	failing := Instrument(&countingProvider{err: errors.New("boom")}, m)
	_, err = failing.EmbedQuery(ctx, "q")
	require.Error(t, err)

	cached, err := NewCachedProvider(ok, 4, m)
	require.NoError(t, err)
	_, _ = cached.EmbedQuery(ctx, "x")
	_, _ = cached.EmbedQuery(ctx, "x")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch data := metric.Data.(type) {
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					counts[metric.Name] += int64(dp.Count)
				}
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					counts[metric.Name] += dp.Value
				}
			}
		}
	}
	assert.EqualValues(t, 4, counts["inquire.embedding.generation_duration_seconds"])
	assert.EqualValues(t, 1, counts["inquire.embedding.errors_total"])
	assert.EqualValues(t, 2, counts["inquire.embedding.cache_lookups_total"])
}

func TestPlatformArchive(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
		wantErr            bool
	}{
		{"linux", "amd64", "linux-x64", false},
		{"linux", "arm64", "linux-aarch64", false},
		{"darwin", "arm64", "osx-arm64", false},
		{"windows", "amd64", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := platformArchive(tt.goos, tt.goarch)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedPlatform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "libonnxruntime.dylib", libraryName("darwin"))
	assert.Equal(t, "libonnxruntime.so", libraryName("linux"))
}

func runtimeArchive(t *testing.T, lib string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := map[string]string{
		"./onnxruntime-test/lib/" + lib + ".1.23.0": "binary",
		"./onnxruntime-test/include/onnxruntime.h":  "header",
	}
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "./onnxruntime-test/lib/" + lib,
		Linkname: lib + ".1.23.0",
		Typeflag: tar.TypeSymlink,
	}))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestONNXRuntime_EnsureDownloads(t *testing.T) {
	if _, err := platformArchive(runtime.GOOS, runtime.GOARCH); err != nil {
		t.Skip("no onnxruntime release for this platform")
	}
	t.Setenv(onnxPathEnv, "")

	lib := libraryName(runtime.GOOS)
	archive := runtimeArchive(t, lib)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	rt := &ONNXRuntime{Dir: t.TempDir(), BaseURL: srv.URL, Client: srv.Client()}
	path, err := rt.Ensure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(rt.Dir, lib), path)
	assert.Equal(t, path, os.Getenv(onnxPathEnv))
	assert.NoFileExists(t, filepath.Join(rt.Dir, "onnxruntime.h"))

	again, err := rt.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.EqualValues(t, 1, hits.Load())
}

func TestONNXRuntime_ExplicitPath(t *testing.T) {
	t.Setenv(onnxPathEnv, "")
	rt := &ONNXRuntime{Path: "/opt/onnx/libonnxruntime.so"}

	path, err := rt.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", path)
	assert.Equal(t, path, os.Getenv(onnxPathEnv))
}

func TestONNXRuntime_Failures(t *testing.T) {
	t.Setenv(onnxPathEnv, "")

	_, err := (&ONNXRuntime{}).Ensure(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	if _, err := platformArchive(runtime.GOOS, runtime.GOARCH); err != nil {
		return
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	_, err = (&ONNXRuntime{Dir: t.TempDir(), BaseURL: srv.URL}).Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestExtractLibraries_MissingLibrary(t *testing.T) {
	archive := runtimeArchive(t, "libother.so")
	err := extractLibraries(bytes.NewReader(archive), t.TempDir(), "libonnxruntime.so")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in archive")
}
