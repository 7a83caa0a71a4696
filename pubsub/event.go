package pubsub

import (
	"encoding/json"
	"time"
)

// Fields is a loosely typed message body.
type Fields map[string]interface{}

// Event is the payload for APIs without a dedicated model, such as news
// and status messages.
type Event struct {
	Key       ChannelKey
	Timestamp time.Time
	Fields    Fields
}

const TimeFormat = "2006-01-02 15:04:05.000000"

// NewEvent builds an Event. A "timestamp" field in TimeFormat or RFC 3339
// is lifted out of fields; otherwise the current time is used.
func NewEvent(key ChannelKey, fields Fields) *Event {
	if fields == nil {
		fields = Fields{}
	}
	timestamp := time.Now().UTC()
	if ts, ok := fields["timestamp"].(string); ok {
		delete(fields, "timestamp")
		if t, err := time.Parse(TimeFormat, ts); err == nil {
			timestamp = t
		} else if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			timestamp = t
		}
	}
	return &Event{Key: key, Timestamp: timestamp, Fields: fields}
}

func (event *Event) Map() map[string]interface{} {
	data := make(map[string]interface{}, len(event.Fields)+1)
	for k, v := range event.Fields {
		data[k] = v
	}
	data["timestamp"] = event.Timestamp.Format(TimeFormat)
	return data
}

func (event *Event) Bytes() []byte {
	v, _ := json.Marshal(event.Map())
	return v
}

func (event *Event) String() string {
	return event.Key.String() + " " + string(event.Bytes())
}

func (event *Event) StringField(name string) string {
	ret, _ := event.Fields[name].(string)
	return ret
}

func (event *Event) FloatField(name string) float64 {
	ret, _ := event.Fields[name].(float64)
	return ret
}

func (event *Event) IntField(name string) int64 {
	return int64(event.FloatField(name))
}

func (event *Event) SetField(name string, value interface{}) {
	event.Fields[name] = value
}

// ParseEvent decodes a JSON object body into an Event for key.
func ParseEvent(key ChannelKey, data []byte) (*Event, error) {
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return NewEvent(key, fields), nil
}
