package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxChats is the per-owner active chat limit when none is configured
	DefaultMaxChats = 4

	// DefaultChatName is given to chats created without a name
	DefaultChatName = "New Unnamed Chat"

	// UnlimitedChats disables the per-owner limit
	UnlimitedChats = -1
)

// ChatSettings holds the user-facing chat lifecycle settings
type ChatSettings struct {
	MaxChats        int    `yaml:"max_chats"`
	DefaultChatName string `yaml:"default_chat_name"`
}

// settingsFile mirrors the YAML layout
type settingsFile struct {
	Chat ChatSettings `yaml:"chat"`
}

// DefaultChatSettings returns the built-in settings
func DefaultChatSettings() ChatSettings {
	return ChatSettings{
		MaxChats:        DefaultMaxChats,
		DefaultChatName: DefaultChatName,
	}
}

// LoadChatSettings reads chat settings from a YAML file.
// An empty path yields the defaults. Missing keys keep their defaults.
func LoadChatSettings(path string) (ChatSettings, error) {
	settings := DefaultChatSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("read settings file: %w", err)
	}

	return parseChatSettings(data)
}

func parseChatSettings(data []byte) (ChatSettings, error) {
	file := settingsFile{Chat: DefaultChatSettings()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return DefaultChatSettings(), fmt.Errorf("parse settings file: %w", err)
	}

	settings := file.Chat
	if err := settings.Validate(); err != nil {
		return DefaultChatSettings(), err
	}
	return settings, nil
}

// Validate rejects settings the chat layer cannot run with
func (s ChatSettings) Validate() error {
	if s.MaxChats < UnlimitedChats {
		return fmt.Errorf("max_chats must be -1 (unlimited) or >= 0, got %d", s.MaxChats)
	}
	if strings.TrimSpace(s.DefaultChatName) == "" {
		return fmt.Errorf("default_chat_name must not be blank")
	}
	if len(s.DefaultChatName) > MaxChatNameLength {
		return fmt.Errorf("default_chat_name exceeds %d characters", MaxChatNameLength)
	}
	return nil
}

// withEnvOverrides applies MAX_CHATS and DEFAULT_CHAT_NAME when set. The
// result goes through Validate so env values obey the same rules as the file.
func (s ChatSettings) withEnvOverrides() (ChatSettings, error) {
	if raw := strings.TrimSpace(os.Getenv("MAX_CHATS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return s, fmt.Errorf("MAX_CHATS must be an integer, got %q", raw)
		}
		s.MaxChats = n
	}
	if name := strings.TrimSpace(os.Getenv("DEFAULT_CHAT_NAME")); name != "" {
		s.DefaultChatName = name
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("chat settings from environment: %w", err)
	}
	return s, nil
}
