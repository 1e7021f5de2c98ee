package adapter

import "time"

// Config configures the Telegram adapter.
type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (self-hosted Bot API server, tests).
	APIURL string
	// Poll enables long polling for operator commands. Sending never needs it.
	Poll        bool
	PollTimeout time.Duration
	// SendTimeout bounds one HTTP round trip to the Bot API.
	SendTimeout time.Duration
}
