package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"orderbot/internal/config"
	"orderbot/internal/dispatch"
)

// fakeBotAPI records sendMessage/sendPhoto calls.
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []botCall
	srv   *httptest.Server
}

type botCall struct {
	Method string
	ChatID string
	Text   string
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		body, _ := io.ReadAll(r.Body)
		var params map[string]any
		if err := json.Unmarshal(body, &params); err != nil {
			if vals, err := url.ParseQuery(string(body)); err == nil {
				params = map[string]any{}
				for k := range vals {
					params[k] = vals.Get(k)
				}
			}
		}
		f.mu.Lock()
		f.calls = append(f.calls, botCall{Method: method, ChatID: fmt.Sprint(params["chat_id"]), Text: fmt.Sprint(params["text"])})
		n := len(f.calls)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1700000000,"chat":{"id":777,"type":"private"}}}`, n)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBotAPI) waitFor(t *testing.T, method string) botCall {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, c := range f.calls {
			if c.Method == method {
				f.mu.Unlock()
				return c
			}
		}
		f.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no %s call observed", method)
	return botCall{}
}

func writeConfig(t *testing.T, apiURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orderbot.yaml")
	body := fmt.Sprintf(`
telegram:
  token: "123:abc"
  operator_chat_id: 777
  api_url: %q
  media_root: %q
logging:
  level: error
dispatch:
  queue_size: 8
  retry_base: 10ms
  send_timeout: 2s
  drain_timeout: 2s
storage:
  driver: file
  path: %q
http:
  enabled: true
  addr: 127.0.0.1:0
`, apiURL, dir, filepath.Join(dir, "data", "orderbot"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppDeliversTestOrderEndToEnd(t *testing.T) {
	api := newFakeBotAPI(t)
	a, err := New(writeConfig(t, api.srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	body := `{"bouquet_name":"Roses in a basket","price":"35.00","delivery_date":"30.12.2025","image_path":"media/products/test_bouquet.jpg"}`
	resp, err := http.Post("http://"+a.HTTPAddr()+"/api/v1/test-order", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// The image does not exist under media_root, so the text fallback is used.
	call := api.waitFor(t, "sendMessage")
	if call.ChatID != "777" || !strings.Contains(call.Text, "Roses in a basket") {
		t.Fatalf("call = %+v", call)
	}

	status, err := a.sendTestOrder(ctx)
	if err != nil || !strings.Contains(status, "queued") {
		t.Fatalf("sendTestOrder = %q, %v", status, err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st := a.Dispatcher().Stats()
	if st.Running || st.Sent != 2 {
		t.Fatalf("stats after stop = %+v", st)
	}
	if got := a.Dispatcher().Submit(orderForTest()); got != dispatch.Closed {
		t.Fatalf("submit after stop = %v, want closed", got)
	}
}

func TestMapDispatchConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{OperatorChatID: 42},
		Dispatch: config.DispatchConfig{
			QueueSize:    16,
			Overflow:     "DROP_OLDEST",
			MaxAttempts:  3,
			RetryBase:    "200ms",
			DrainTimeout: "3s",
			DedupWindow:  "10m",
		},
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if dc.ChatID != 42 || dc.Overflow != dispatch.OverflowDropOldest || dc.QueueSize != 16 {
		t.Fatalf("dc = %+v", dc)
	}
	if dc.RetryBase != 200*time.Millisecond || dc.DrainTimeout != 3*time.Second || dc.DedupWindow != 10*time.Minute {
		t.Fatalf("durations = %+v", dc)
	}

	cfg.Dispatch.Overflow = "explode"
	if _, err := mapDispatchConfig(cfg); err == nil {
		t.Fatal("expected overflow error")
	}
	cfg.Dispatch.Overflow = ""
	cfg.Dispatch.SendTimeout = "fast"
	if _, err := mapDispatchConfig(cfg); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"disabled", config.StorageConfig{}, false, false},
		{"none", config.StorageConfig{Driver: "none"}, false, false},
		{"file", config.StorageConfig{Driver: "file", Path: "./data/x"}, true, false},
		{"sqlite", config.StorageConfig{Driver: "SQLite", Path: "./x.db", BusyTimeout: "2s"}, true, false},
		{"sqlite without path", config.StorageConfig{Driver: "sqlite"}, false, true},
		{"unknown", config.StorageConfig{Driver: "redis"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr || enabled != tt.enabled {
				t.Fatalf("enabled=%v err=%v", enabled, err)
			}
		})
	}
}

func TestMapReportConfig(t *testing.T) {
	t.Parallel()
	rc, err := mapReportConfig(&config.Config{
		Telegram: config.TelegramConfig{OperatorChatID: 5},
		Report:   config.ReportConfig{Enabled: true, Schedule: "@hourly", Timezone: "UTC", SendToChat: true},
	})
	if err != nil || rc.Location != time.UTC || rc.ChatID != 5 || !rc.SendToChat {
		t.Fatalf("rc = %+v, err = %v", rc, err)
	}
	if _, err := mapReportConfig(&config.Config{Report: config.ReportConfig{Timezone: "Mars/Olympus"}}); err == nil {
		t.Fatal("expected timezone error")
	}
}
