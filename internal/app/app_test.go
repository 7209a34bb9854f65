package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/imgharvest/internal/app"
	"github.com/JakeFAU/imgharvest/internal/config"
	"github.com/JakeFAU/imgharvest/internal/harvest"
	"github.com/JakeFAU/imgharvest/internal/storage/memory"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.jpg", "/b.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpegBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFixture(t *testing.T, terms map[string][]string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("terms:\n")
	for term, urls := range terms {
		fmt.Fprintf(&b, "  %s:\n", term)
		for _, u := range urls {
			fmt.Fprintf(&b, "    - %s\n", u)
		}
	}
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func testConfig(fixturePath, baseDir string) config.Config {
	return config.Config{
		HTTP: config.HTTPConfig{
			TimeoutSeconds: 5,
			UserAgent:      "imgharvest-test",
			RateLimitBurst: 1,
		},
		Worker: config.WorkerConfig{Concurrency: 2, GracePeriodSeconds: 1},
		Discovery: config.DiscoveryConfig{
			Provider: config.ProviderFixture,
			Fixture:  config.FixtureConfig{Path: fixturePath},
		},
		Storage: config.StorageConfig{
			Backend:             config.BackendLocal,
			BaseDir:             baseDir,
			ContentType:         "image/jpeg",
			WriteTimeoutSeconds: 5,
		},
		DB: config.DBConfig{Table: "harvest_outcomes"},
	}
}

func jpgFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	require.NoError(t, err)
	return matches
}

func TestRunHarvestsIntoLocalDirectories(t *testing.T) {
	t.Parallel()

	images := newImageServer(t)
	fixturePath := writeFixture(t, map[string][]string{
		"sun":  {images.URL + "/a.jpg", images.URL + "/missing.jpg"},
		"moon": {images.URL + "/b.jpg"},
	})
	baseDir := filepath.Join(t.TempDir(), "pictures")

	a, err := app.New(context.Background(), testConfig(fixturePath, baseDir), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary := a.Run(context.Background(), []string{"sun", "moon"})

	require.Len(t, summary.Terms, 2)
	assert.Equal(t, "sun", summary.Terms[0].Term)
	assert.Equal(t, "moon", summary.Terms[1].Term)
	assert.Equal(t, 3, summary.Total.Discovered)
	assert.Equal(t, 2, summary.Total.Succeeded)
	assert.Equal(t, 1, summary.Total.Failed)
	assert.Equal(t, harvest.ExitDownloadFailures, summary.ExitCode())

	sunFiles := jpgFiles(t, filepath.Join(baseDir, "sun"))
	require.Len(t, sunFiles, 1)
	data, err := os.ReadFile(sunFiles[0])
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)
	assert.Len(t, jpgFiles(t, filepath.Join(baseDir, "moon")), 1)

	families, err := a.GetRegistry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "harvest_downloads_total")
	assert.Contains(t, names, "harvest_discovery_total")
}

func TestRunReportsDiscoveryFailure(t *testing.T) {
	t.Parallel()

	baseDir := filepath.Join(t.TempDir(), "pictures")
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	a, err := app.New(context.Background(), testConfig(missing, baseDir), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary := a.Run(context.Background(), []string{"sun"})

	require.Len(t, summary.Terms, 1)
	assert.True(t, summary.Terms[0].DiscoveryFailed)
	assert.Equal(t, harvest.ExitTermFailures, summary.ExitCode())
	_, statErr := os.Stat(filepath.Join(baseDir, "sun"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunWithCanceledContext(t *testing.T) {
	t.Parallel()

	images := newImageServer(t)
	fixturePath := writeFixture(t, map[string][]string{"sun": {images.URL + "/a.jpg"}})
	a, err := app.New(context.Background(), testConfig(fixturePath, t.TempDir()), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := a.Run(ctx, []string{"sun"})

	require.Len(t, summary.Terms, 1)
	assert.True(t, summary.Terms[0].Canceled)
	assert.Equal(t, harvest.ExitTermFailures, summary.ExitCode())
}

func TestRunServesMetricsWhileRunning(t *testing.T) {
	t.Parallel()

	images := newImageServer(t)
	fixturePath := writeFixture(t, map[string][]string{"sun": {images.URL + "/a.jpg"}})
	cfg := testConfig(fixturePath, t.TempDir())
	cfg.Metrics.ListenAddr = "127.0.0.1:0"

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary := a.Run(context.Background(), []string{"sun"})
	assert.Equal(t, 1, summary.Total.Succeeded)
	assert.Equal(t, harvest.ExitOK, summary.ExitCode())
}

func TestDryRunKeepsArtifactsInMemory(t *testing.T) {
	t.Parallel()

	images := newImageServer(t)
	fixturePath := writeFixture(t, map[string][]string{"sun": {images.URL + "/a.jpg", images.URL + "/b.jpg"}})
	baseDir := filepath.Join(t.TempDir(), "pictures")
	cfg := testConfig(fixturePath, baseDir)
	cfg.Storage.Backend = config.BackendMemory

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary := a.Run(context.Background(), []string{"sun"})
	assert.Equal(t, 2, summary.Total.Succeeded)

	sink, ok := a.GetSink().(*memory.Sink)
	require.True(t, ok)
	assert.Len(t, sink.Keys(), 2)
	_, statErr := os.Stat(baseDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewUploadsToGCS(t *testing.T) {
	t.Parallel()

	images := newImageServer(t)
	fixturePath := writeFixture(t, map[string][]string{"sun": {images.URL + "/a.jpg"}})

	var uploads atomic.Int32
	gcsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		assert.True(t, strings.HasPrefix(name, "pictures/sun/"), name)
		uploads.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": name, "bucket": "harvest-bucket"})
	}))
	t.Cleanup(gcsServer.Close)

	cfg := testConfig(fixturePath, "")
	cfg.Storage.Backend = config.BackendGCS
	cfg.Storage.GCSBucket = "harvest-bucket"
	cfg.Storage.Prefix = "pictures"

	a, err := app.New(context.Background(), cfg, nil,
		app.WithStorageOptions(option.WithEndpoint(gcsServer.URL), option.WithoutAuthentication()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary := a.Run(context.Background(), []string{"sun"})
	assert.Equal(t, 1, summary.Total.Succeeded)
	assert.EqualValues(t, 1, uploads.Load())
}

func TestNewPublishesNotifications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test-project/topics/harvest-events"})
	require.NoError(t, err)
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	images := newImageServer(t)
	fixturePath := writeFixture(t, map[string][]string{
		"sun": {images.URL + "/a.jpg", images.URL + "/b.jpg", images.URL + "/missing.jpg"},
	})
	cfg := testConfig(fixturePath, t.TempDir())
	cfg.PubSub = config.PubSubConfig{ProjectID: "test-project", TopicName: "harvest-events"}

	a, err := app.New(ctx, cfg, nil, app.WithPubSubOptions(option.WithGRPCConn(conn)))
	require.NoError(t, err)

	summary := a.Run(ctx, []string{"sun"})
	a.Close()

	assert.Equal(t, 2, summary.Total.Succeeded)
	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	for _, msg := range msgs {
		var n map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &n))
		assert.Equal(t, "sun", n["term"])
		assert.Equal(t, a.RunID(), n["run_id"])
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig("", t.TempDir())
	cfg.Discovery.Provider = "carrier-pigeon"

	_, err := app.New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown discovery provider")
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig("fixture.yaml", t.TempDir())
	cfg.Storage.Backend = "tape"

	_, err := app.New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestUserAgentDefaultsToSpoofedBrowser(t *testing.T) {
	t.Parallel()

	cfg := testConfig("fixture.yaml", t.TempDir())
	cfg.HTTP.UserAgent = ""

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.True(t, strings.HasPrefix(a.UserAgent(), "Mozilla/5.0"), a.UserAgent())
	assert.NotEmpty(t, a.RunID())
	a.Close()
	a.Close()
}
