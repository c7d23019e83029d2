package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DecodeError reports a bus message that could not be turned into an
// Event: unknown channel, malformed payload, or missing fields.
type DecodeError struct {
	Channel string
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Channel, e.Reason)
}

// Decode parses a raw bus message into an Event. It is a pure function:
// no I/O, no clock. The payload schema is fixed per channel by the
// upstream producer.
func Decode(channel, payload string) (Event, error) {
	switch channel {
	case ChannelStorageUpdate:
		var raw struct {
			Storage *uint32 `json:"storage"`
			Path    *string `json:"path"`
		}
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, &DecodeError{Channel: channel, Reason: err.Error()}
		}
		if raw.Storage == nil {
			return nil, &DecodeError{Channel: channel, Reason: "missing storage"}
		}
		if raw.Path == nil {
			return nil, &DecodeError{Channel: channel, Reason: "missing path"}
		}
		return StorageUpdate{Storage: *raw.Storage, Path: *raw.Path}, nil
	case ChannelGroupUpdate:
		var update GroupUpdate
		if err := json.Unmarshal([]byte(payload), &update); err != nil {
			return nil, &DecodeError{Channel: channel, Reason: err.Error()}
		}
		if update.User == "" {
			return nil, &DecodeError{Channel: channel, Reason: "missing user"}
		}
		return update, nil
	case ChannelShareCreate:
		var share ShareCreate
		if err := json.Unmarshal([]byte(payload), &share); err != nil {
			return nil, &DecodeError{Channel: channel, Reason: err.Error()}
		}
		if share.User == "" {
			return nil, &DecodeError{Channel: channel, Reason: "missing user"}
		}
		return share, nil
	case ChannelTestCookie:
		cookie, err := strconv.ParseUint(payload, 10, 32)
		if err != nil {
			return nil, &DecodeError{Channel: channel, Reason: "not a u32: " + payload}
		}
		return TestCookie(cookie), nil
	default:
		return nil, &DecodeError{Channel: channel, Reason: "unknown channel"}
	}
}
