// Package tgui provides small helpers for building Telegram messages in
// ParseMode="HTML":
//   - escaping and tag helpers that keep user text inert
//   - rune and UTF-16 aware truncation for Telegram's size limits
package tgui
