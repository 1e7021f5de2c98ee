package tgui

// Telegram message limits, counted in UTF-16 code units after entity parsing.
// We measure the raw HTML, which is never shorter than what Telegram counts.
const (
	MaxTextLen    = 4096
	MaxCaptionLen = 1024
)
