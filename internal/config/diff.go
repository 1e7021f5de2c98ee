package config

import (
	"strings"

	logx "orderbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections plus safe log
// fields. Secrets (tokens) are never included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.OperatorChatID != nt.OperatorChatID || ot.PollCommands != nt.PollCommands ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.MediaRoot != nt.MediaRoot || ot.APIURL != nt.APIURL || ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.operator_chat_id", nt.OperatorChatID),
			logx.Bool("telegram.poll_commands", nt.PollCommands),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		nd := newCfg.Dispatch
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.queue_size", nd.QueueSize),
			logx.String("dispatch.overflow", nd.Overflow),
			logx.Int("dispatch.max_attempts", nd.MaxAttempts),
			logx.String("dispatch.dedup_window", nd.DedupWindow),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh.Enabled != nh.Enabled || oh.Addr != nh.Addr || oh.Pprof != nh.Pprof || oh.AllowInsecure != nh.AllowInsecure ||
		oh.ReadTimeout != nh.ReadTimeout || oh.WriteTimeout != nh.WriteTimeout || oh.IdleTimeout != nh.IdleTimeout ||
		(oh.Token != "") != (nh.Token != "") {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", nh.Addr),
			logx.Bool("http.token_set", nh.Token != ""),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", newCfg.Report.Schedule),
		)
	}
	return changed, attrs
}
