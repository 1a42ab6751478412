package memory

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/becomeliminal/convmem/core"
)

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(meta map[string]string, key string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, meta[key])
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return t, nil
}

// corrupt reports a record that exists but does not match its schema.
func corrupt(collection, id string, err error) error {
	return core.StorageUnavailable("decode "+collection, fmt.Errorf("record %s: %w", id, err))
}

// Sessions

func sessionRecord(s core.Session) Record {
	day, _ := time.Parse(dateLayout, s.Date)
	return Record{
		ID:   s.ID,
		Text: fmt.Sprintf("Sesión del %s", day.Format("02/01/2006")),
		Metadata: map[string]string{
			keyUserID:    s.UserID,
			keyDate:      s.Date,
			keyCreatedAt: formatTime(s.CreatedAt),
		},
	}
}

func decodeSession(rec Record) (core.Session, error) {
	createdAt, err := parseTime(rec.Metadata, keyCreatedAt)
	if err != nil {
		return core.Session{}, corrupt(CollectionSessions, rec.ID, err)
	}
	return core.Session{
		ID:        rec.ID,
		UserID:    rec.Metadata[keyUserID],
		Date:      rec.Metadata[keyDate],
		CreatedAt: createdAt,
	}, nil
}

// Messages

// toolPayload is the stored text of a tool message.
type toolPayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func messageRecord(m core.Message) (Record, error) {
	meta := map[string]string{
		keyUserID:        m.UserID,
		keySessionID:     m.SessionID,
		keyRole:          string(m.Role),
		keyTimestamp:     formatTime(m.Timestamp),
		keySeq:           strconv.FormatInt(m.Seq, 10),
		keyContentLength: strconv.Itoa(m.ContentLength),
	}
	text := m.Content
	if m.Role == core.RoleTool {
		b, err := json.Marshal(toolPayload{Name: m.ToolName, Content: m.Content})
		if err != nil {
			return Record{}, fmt.Errorf("encode tool payload: %w", err)
		}
		text = string(b)
		meta[keyToolName] = m.ToolName
	}
	return Record{ID: m.ID, Text: text, Metadata: meta}, nil
}

func decodeMessage(rec Record) (core.Message, error) {
	role := core.Role(rec.Metadata[keyRole])
	if err := role.Validate(); err != nil {
		return core.Message{}, corrupt(CollectionMessages, rec.ID, err)
	}
	ts, err := parseTime(rec.Metadata, keyTimestamp)
	if err != nil {
		return core.Message{}, corrupt(CollectionMessages, rec.ID, err)
	}
	seq, err := strconv.ParseInt(rec.Metadata[keySeq], 10, 64)
	if err != nil {
		return core.Message{}, corrupt(CollectionMessages, rec.ID, fmt.Errorf("field seq: %w", err))
	}
	length, _ := strconv.Atoi(rec.Metadata[keyContentLength])

	m := core.Message{
		ID:            rec.ID,
		UserID:        rec.Metadata[keyUserID],
		SessionID:     rec.Metadata[keySessionID],
		Role:          role,
		Content:       rec.Text,
		ToolName:      rec.Metadata[keyToolName],
		Timestamp:     ts,
		Seq:           seq,
		ContentLength: length,
	}
	if role == core.RoleTool {
		var p toolPayload
		if err := json.Unmarshal([]byte(rec.Text), &p); err == nil {
			m.Content = p.Content
			if m.ToolName == "" {
				m.ToolName = p.Name
			}
		}
	}
	return m, nil
}

// Facts

func factRecord(f core.Fact) Record {
	return Record{
		ID:   f.ID,
		Text: f.Text,
		Metadata: map[string]string{
			keyUserID:     f.UserID,
			keyCategory:   string(f.Category),
			keyConfidence: strconv.FormatFloat(f.Confidence, 'f', -1, 64),
			keySource:     f.Source,
			keyCreatedAt:  formatTime(f.CreatedAt),
			keyUpdatedAt:  formatTime(f.UpdatedAt),
		},
	}
}

func decodeFact(rec Record) (core.Fact, error) {
	category := core.Category(rec.Metadata[keyCategory])
	if err := category.Validate(); err != nil {
		return core.Fact{}, corrupt(CollectionFacts, rec.ID, err)
	}
	confidence, err := strconv.ParseFloat(rec.Metadata[keyConfidence], 64)
	if err != nil {
		return core.Fact{}, corrupt(CollectionFacts, rec.ID, fmt.Errorf("field confidence: %w", err))
	}
	createdAt, err := parseTime(rec.Metadata, keyCreatedAt)
	if err != nil {
		return core.Fact{}, corrupt(CollectionFacts, rec.ID, err)
	}
	updatedAt, err := parseTime(rec.Metadata, keyUpdatedAt)
	if err != nil {
		return core.Fact{}, corrupt(CollectionFacts, rec.ID, err)
	}
	return core.Fact{
		ID:         rec.ID,
		UserID:     rec.Metadata[keyUserID],
		Category:   category,
		Text:       rec.Text,
		Confidence: confidence,
		Source:     rec.Metadata[keySource],
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}
