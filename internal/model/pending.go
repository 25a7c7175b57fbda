package model

import "encoding/json"

// PendingEntry 待审核条目
type PendingEntry struct {
	MessageID string `json:"message_id"`
	Record    Record `json:"message_record"`
}

// UnmarshalJSON also accepts entries written under the older "message_data" key.
func (e *PendingEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		MessageID     string  `json:"message_id"`
		MessageRecord *Record `json:"message_record"`
		MessageData   *Record `json:"message_data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.MessageID = raw.MessageID
	switch {
	case raw.MessageRecord != nil:
		e.Record = *raw.MessageRecord
	case raw.MessageData != nil:
		e.Record = *raw.MessageData
	default:
		e.Record = Record{}
	}
	if e.MessageID == "" {
		e.MessageID = e.Record.ID
	}
	return nil
}

// PendingQueue 待审核队列，按入队顺序排列
type PendingQueue struct {
	Pending []PendingEntry `json:"pending"`
}

// Index returns the position of messageID, or -1.
func (q *PendingQueue) Index(messageID string) int {
	for i := range q.Pending {
		if q.Pending[i].MessageID == messageID {
			return i
		}
	}
	return -1
}

// MarshalJSON never writes "pending": null.
func (q PendingQueue) MarshalJSON() ([]byte, error) {
	type alias PendingQueue
	if q.Pending == nil {
		q.Pending = []PendingEntry{}
	}
	return json.Marshal(alias(q))
}
