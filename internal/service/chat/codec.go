package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"multichat/internal/domain/models"
	"multichat/internal/domain/repositories"
)

// Point metadata keys
const (
	keyOwner       = "owner"
	keyStatus      = "status"
	keyName        = "name"
	keyNameUserSet = "name_user_set"
	keyCreatedAt   = "created_at"
	keyLastUpdate  = "last_update"
	keyChatID      = "chat_id"
	keyRole        = "role"
	keyTimestamp   = "timestamp"
	keySequence    = "sequence"
	keyMeta        = "meta" // JSON-encoded caller metadata
)

func encodeChat(c *models.Chat) (map[string]string, error) {
	meta, err := encodeMeta(c.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		keyOwner:       c.Owner,
		keyStatus:      string(c.Status),
		keyName:        c.Name,
		keyNameUserSet: strconv.FormatBool(c.NameIsUserSet),
		keyCreatedAt:   formatTime(c.CreatedAt),
		keyLastUpdate:  formatTime(c.LastUpdate),
		keyMeta:        meta,
	}, nil
}

func decodeChat(p *repositories.Point) (*models.Chat, error) {
	md := p.Metadata

	createdAt, err := parseTime(md[keyCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("chat %s: created_at: %w", p.ID, err)
	}
	lastUpdate, err := parseTime(md[keyLastUpdate])
	if err != nil {
		lastUpdate = createdAt
	}
	meta, err := decodeMeta(md[keyMeta])
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", p.ID, err)
	}

	status := models.ChatStatus(md[keyStatus])
	if status == "" {
		status = models.ChatStatusActive
	}

	return &models.Chat{
		ID:            p.ID,
		Owner:         md[keyOwner],
		Name:          md[keyName],
		NameIsUserSet: md[keyNameUserSet] == "true",
		Status:        status,
		Content:       p.Text,
		Metadata:      meta,
		CreatedAt:     createdAt,
		LastUpdate:    lastUpdate,
	}, nil
}

func encodeMessage(m *models.Message) (map[string]string, error) {
	meta, err := encodeMeta(m.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		keyChatID:    m.ChatID,
		keyOwner:     m.Owner,
		keyRole:      m.Role,
		keyTimestamp: formatTime(m.Timestamp),
		keySequence:  strconv.FormatInt(m.Sequence, 10),
		keyMeta:      meta,
	}, nil
}

func decodeMessage(p *repositories.Point) (*models.Message, error) {
	md := p.Metadata

	ts, err := parseTime(md[keyTimestamp])
	if err != nil {
		return nil, fmt.Errorf("message %s: timestamp: %w", p.ID, err)
	}
	seq, err := strconv.ParseInt(md[keySequence], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("message %s: sequence: %w", p.ID, err)
	}
	meta, err := decodeMeta(md[keyMeta])
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", p.ID, err)
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta[keyChatID] = md[keyChatID]

	return &models.Message{
		ID:        p.ID,
		ChatID:    md[keyChatID],
		Owner:     md[keyOwner],
		Role:      md[keyRole],
		Content:   p.Text,
		Timestamp: ts,
		Sequence:  seq,
		Metadata:  meta,
	}, nil
}

func encodeMeta(meta map[string]interface{}) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
