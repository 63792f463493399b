package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/formrelay/internal/config"
	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/ingest"
	"github.com/R3E-Network/formrelay/internal/storage"
	"github.com/R3E-Network/formrelay/internal/storage/jsonfile"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

// freeUDPAddr returns a loopback address that was free a moment ago.
func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	udp := freeUDPAddr(t)

	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.BaseDir = t.TempDir()
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Ingest.Addr = udp
	cfg.Relay.Target = udp
	cfg.Storage.Path = filepath.Join(t.TempDir(), "storage", "data.json")
	return cfg
}

// startApp runs the application until the test ends.
func startApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()

	a, err := New(context.Background(), cfg, logger.NewDiscard())
	require.NoError(t, err)
	require.NoError(t, a.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("application did not stop")
		}
		a.Close()
	})
	return a
}

func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func post(t *testing.T, a *Application, body string) *http.Response {
	t.Helper()
	url := fmt.Sprintf("http://%s/message", a.HTTPAddr())
	resp, err := noRedirectClient().Post(url, "application/x-www-form-urlencoded", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func waitForDocument(t *testing.T, store storage.Store, n int) storage.Document {
	t.Helper()
	var doc storage.Document
	require.Eventually(t, func() bool {
		var err error
		doc, err = store.Load(context.Background())
		return err == nil && len(doc) >= n
	}, 5*time.Second, 10*time.Millisecond)
	return doc
}

func TestApplication_PostIsStored(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg)

	resp := post(t, a, "name=Alice&msg=Hi")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/message", resp.Header.Get("Location"))

	doc := waitForDocument(t, jsonfile.New(cfg.Storage.Path), 1)
	require.Len(t, doc, 1)
	for ts, sub := range doc {
		_, err := storage.ParseTimestamp(ts)
		assert.NoError(t, err)
		assert.Equal(t, form.Submission{"name": "Alice", "msg": "Hi"}, sub)
	}
}

func TestApplication_ConcurrentPostsAllPersist(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg)

	const n = 10
	url := fmt.Sprintf("http://%s/message", a.HTTPAddr())
	client := noRedirectClient()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Post(url, "application/x-www-form-urlencoded", strings.NewReader(fmt.Sprintf("n=%d", i)))
			if assert.NoError(t, err) {
				resp.Body.Close()
				assert.Equal(t, http.StatusFound, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	doc := waitForDocument(t, jsonfile.New(cfg.Storage.Path), n)
	assert.Len(t, doc, n)
}

func TestApplication_MalformedPostStoresNothing(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg)

	resp := post(t, a, "foo")
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	// A valid submission after the bad one proves the bad one was processed.
	post(t, a, "a=1")
	doc := waitForDocument(t, jsonfile.New(cfg.Storage.Path), 1)
	require.Len(t, doc, 1)
	for _, sub := range doc {
		assert.Equal(t, form.Submission{"a": "1"}, sub)
	}
}

func TestApplication_ServesPagesAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	a := startApp(t, cfg)

	resp, err := http.Get(fmt.Sprintf("http://%s/", a.HTTPAddr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	require.NotNil(t, a.MetricsAddr())
	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", a.MetricsAddr()))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "formrelay_http_requests_total")
}

func TestApplication_BindFailure(t *testing.T) {
	taken, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t)
	cfg.Ingest.Addr = taken.LocalAddr().String()

	a, err := New(context.Background(), cfg, logger.NewDiscard())
	require.NoError(t, err)
	defer a.Close()

	err = a.Run(context.Background())
	assert.ErrorIs(t, err, ingest.ErrBind)
	assert.Nil(t, a.HTTPAddr())
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(context.Background(), config.StorageConfig{
		Driver: config.DriverJSON,
		Path:   filepath.Join(t.TempDir(), "data.json"),
	})
	require.NoError(t, err)
	assert.IsType(t, &jsonfile.Store{}, store)

	_, err = OpenStore(context.Background(), config.StorageConfig{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = OpenStore(context.Background(), config.StorageConfig{
		Driver:    config.DriverRedis,
		RedisAddr: "127.0.0.1:1",
	})
	assert.ErrorIs(t, err, storage.ErrIO)
}
