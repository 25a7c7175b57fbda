package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultCategory 频道桶的默认分类
const DefaultCategory = "None"

// Channel 频道桶
type Channel struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Messages []Record `json:"messages"`
}

// Feed 按频道划分的消息集合，保留频道的发现顺序
//
// The zero value is an empty feed. Key order survives JSON round trips and is
// the tie-break order used when ranking.
type Feed struct {
	order    []string
	channels map[string]*Channel
}

func NewFeed() *Feed {
	return &Feed{channels: make(map[string]*Channel)}
}

// Get returns the bucket for channelID, or nil.
func (f *Feed) Get(channelID string) *Channel {
	if f.channels == nil {
		return nil
	}
	return f.channels[channelID]
}

// Put inserts or replaces a bucket. New keys go to the end of the order.
func (f *Feed) Put(channelID string, ch *Channel) {
	if f.channels == nil {
		f.channels = make(map[string]*Channel)
	}
	if _, ok := f.channels[channelID]; !ok {
		f.order = append(f.order, channelID)
	}
	f.channels[channelID] = ch
}

// IDs returns channel ids in discovery order.
func (f *Feed) IDs() []string {
	return append([]string(nil), f.order...)
}

// Len is the number of buckets.
func (f *Feed) Len() int {
	return len(f.order)
}

// Total is the number of records across all buckets.
func (f *Feed) Total() int {
	n := 0
	for _, id := range f.order {
		n += len(f.channels[id].Messages)
	}
	return n
}

// Records flattens the feed in discovery order.
func (f *Feed) Records() []Record {
	out := make([]Record, 0, f.Total())
	for _, id := range f.order {
		out = append(out, f.channels[id].Messages...)
	}
	return out
}

// Clone returns a deep copy.
func (f *Feed) Clone() *Feed {
	out := NewFeed()
	for _, id := range f.order {
		ch := f.channels[id]
		msgs := make([]Record, len(ch.Messages))
		for i := range ch.Messages {
			msgs[i] = ch.Messages[i].Clone()
		}
		out.Put(id, &Channel{Name: ch.Name, Category: ch.Category, Messages: msgs})
	}
	return out
}

// MarshalJSON writes {"channels": {...}} with keys in discovery order.
func (f *Feed) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"channels":{`)
	for i, id := range f.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		ch := *f.channels[id]
		if ch.Messages == nil {
			ch.Messages = []Record{}
		}
		body, err := json.Marshal(ch)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// UnmarshalJSON reads {"channels": {...}} keeping key order. Unknown
// top-level keys are ignored; a missing "channels" yields an empty feed.
func (f *Feed) UnmarshalJSON(data []byte) error {
	*f = Feed{channels: make(map[string]*Channel)}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return err
		}
		if key != "channels" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		if err := f.decodeChannels(dec); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func (f *Feed) decodeChannels(dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		id, err := readKey(dec)
		if err != nil {
			return err
		}
		var ch Channel
		if err := dec.Decode(&ch); err != nil {
			return fmt.Errorf("channel %s: %w", id, err)
		}
		if ch.Category == "" {
			ch.Category = DefaultCategory
		}
		f.Put(id, &ch)
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}
