package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks the fully resolved config (after ApplyEnv).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvBotToken))
	}
	if cfg.Telegram.OperatorChatID == 0 {
		add(fmt.Errorf("telegram.operator_chat_id is required (or set %s)", EnvAdminChatID))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	d := cfg.Dispatch
	if d.QueueSize < 0 {
		add(errors.New("dispatch.queue_size must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(d.Overflow)) {
	case "", "reject_new", "drop_oldest":
	default:
		add(fmt.Errorf("dispatch.overflow: unknown policy %q (reject_new|drop_oldest)", d.Overflow))
	}
	if d.RatePerSec < 0 {
		add(errors.New("dispatch.rate_per_sec must be >= 0"))
	}
	if d.MaxAttempts < 0 || d.MaxAttempts > 10 {
		add(errors.New("dispatch.max_attempts must be within 1..10"))
	}
	for path, raw := range map[string]string{
		"dispatch.retry_base":      d.RetryBase,
		"dispatch.retry_max_delay": d.RetryMaxDelay,
		"dispatch.send_timeout":    d.SendTimeout,
		"dispatch.drain_timeout":   d.DrainTimeout,
		"dispatch.dedup_window":    d.DedupWindow,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"http.read_timeout":        cfg.HTTP.ReadTimeout,
		"http.write_timeout":       cfg.HTTP.WriteTimeout,
		"http.idle_timeout":        cfg.HTTP.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none":
		if d.PersistDedup {
			add(errors.New("dispatch.persist_dedup requires storage.driver"))
		}
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q (file|sqlite|none)", cfg.Storage.Driver))
	}

	if cfg.HTTP.Enabled {
		add(validateHTTP(cfg.HTTP))
	}
	if cfg.Report.Enabled {
		if strings.TrimSpace(cfg.Report.Timezone) != "" {
			if _, err := time.LoadLocation(cfg.Report.Timezone); err != nil {
				add(fmt.Errorf("report.timezone: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func validateHTTP(h HTTPConfig) error {
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("http.addr: %w", err)
	}
	if !IsLoopbackHost(host) && strings.TrimSpace(h.Token) == "" && !h.AllowInsecure {
		return fmt.Errorf("http.addr %q is not loopback: set http.token or http.allow_insecure", addr)
	}
	return nil
}

// IsLoopbackHost reports whether host is localhost or a loopback IP.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
