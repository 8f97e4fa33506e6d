package config

const (
	// MaxChatNameLength is the maximum length for chat names, including
	// automatically generated titles (longer titles are truncated).
	MaxChatNameLength = 255

	// MaxMessageLength bounds a single ingested message.
	MaxMessageLength = 100_000

	// MaxChatContentLength bounds the text embedded for a chat record.
	MaxChatContentLength = 10_000

	// DefaultSearchLimit and MaxSearchLimit bound similarity search results.
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)
