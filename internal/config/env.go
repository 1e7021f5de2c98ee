package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment fallbacks for secrets and the recipient.
const (
	EnvBotToken    = "BOT_TOKEN"
	EnvAdminChatID = "ADMIN_CHAT_ID"
	EnvHTTPToken   = "ORDERBOT_HTTP_TOKEN"
)

// ApplyEnv fills empty secret fields from the environment. File values win.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil || getenv == nil {
		return nil
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(getenv(EnvBotToken))
	}
	if cfg.Telegram.OperatorChatID == 0 {
		if raw := strings.TrimSpace(getenv(EnvAdminChatID)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", EnvAdminChatID, err)
			}
			cfg.Telegram.OperatorChatID = id
		}
	}
	if strings.TrimSpace(cfg.HTTP.Token) == "" {
		cfg.HTTP.Token = strings.TrimSpace(getenv(EnvHTTPToken))
	}
	return nil
}
