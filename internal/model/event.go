package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageEvent 平台无关的消息事件
type MessageEvent struct {
	ID                  string     `json:"id"`
	ChannelID           string     `json:"channel_id"`
	ChannelName         string     `json:"channel_name,omitempty"`
	GuildID             string     `json:"guild_id,omitempty"`
	Content             string     `json:"content"`
	Author              Author     `json:"author"`
	FromSelf            bool       `json:"from_self,omitempty"`
	Timestamp           time.Time  `json:"timestamp"`
	Reactions           []Reaction `json:"reactions,omitempty"`
	Attachments         []string   `json:"attachments,omitempty"`
	ReferencedMessageID string     `json:"referenced_message_id,omitempty"`
}

// ThreadEvent 论坛帖子创建或更新事件
type ThreadEvent struct {
	ID       string   `json:"id"`
	ParentID string   `json:"parent_id"`
	GuildID  string   `json:"guild_id,omitempty"`
	Name     string   `json:"name"`
	Tags     []TagRef `json:"tags"`
	// 回复数，不含首帖
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	// 最后一条消息的 id，用于推导 latest_timestamp
	LastMessageID string        `json:"last_message_id,omitempty"`
	LastActivity  time.Time     `json:"last_activity"`
	Opening       *MessageEvent `json:"opening,omitempty"`
}

// TagRef 帖子标签：部分平台接口返回字符串，部分返回 {id, name} 对象
type TagRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func (t *TagRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = TagRef{}
		return nil
	}
	switch data[0] {
	case '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = TagRef{Name: name}
		return nil
	case '{':
		var obj struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*t = TagRef{ID: rawID(obj.ID), Name: obj.Name}
		return nil
	default:
		return fmt.Errorf("tag: unsupported json %s", data)
	}
}

// rawID accepts ids sent as either strings or numbers.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
