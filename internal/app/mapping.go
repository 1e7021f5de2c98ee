package app

import (
	"fmt"
	"strings"
	"time"

	"orderbot/internal/config"
	"orderbot/internal/dispatch"
	"orderbot/internal/httpapi"
	"orderbot/internal/report"
	"orderbot/internal/storage"
	telegram "orderbot/internal/transport/telegram/adapter"
	logx "orderbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		APIURL:      cfg.Telegram.APIURL,
		Poll:        cfg.Telegram.PollCommands,
		PollTimeout: pollTimeout,
		SendTimeout: sendTimeout,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := cfg.Dispatch
	overflow, ok := dispatch.ParseOverflow(dc.Overflow)
	if !ok {
		return dispatch.Config{}, fmt.Errorf("dispatch.overflow: unknown policy %q", dc.Overflow)
	}
	out := dispatch.Config{
		ChatID:          cfg.Telegram.OperatorChatID,
		QueueSize:       dc.QueueSize,
		Overflow:        overflow,
		RatePerSec:      dc.RatePerSec,
		Burst:           dc.Burst,
		MaxAttempts:     dc.MaxAttempts,
		DedupMaxEntries: dc.DedupMaxEntries,
		PersistDedup:    dc.PersistDedup,
	}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.retry_base", dc.RetryBase, &out.RetryBase},
		{"dispatch.retry_max_delay", dc.RetryMaxDelay, &out.RetryMaxDelay},
		{"dispatch.send_timeout", dc.SendTimeout, &out.SendTimeout},
		{"dispatch.drain_timeout", dc.DrainTimeout, &out.DrainTimeout},
		{"dispatch.dedup_window", dc.DedupWindow, &out.DedupWindow},
	} {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return dispatch.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	out := httpapi.Config{
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 40*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

func mapReportConfig(cfg *config.Config) (report.Config, error) {
	rc := cfg.Report
	out := report.Config{
		Schedule:   rc.Schedule,
		SendToChat: rc.SendToChat,
		ChatID:     cfg.Telegram.OperatorChatID,
	}
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return report.Config{}, fmt.Errorf("report.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}
	return out, nil
}
