package model

import (
	"fmt"
	"strings"
	"time"
)

const localTimeLayout = "2006-01-02T15:04:05"

// LocalTime accepts both RFC 3339 timestamps and the zone-less
// date-times the reservation API emits.
type LocalTime struct {
	time.Time
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(localTimeLayout) + `"`), nil
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, localTimeLayout, "2006-01-02T15:04:05.999999999"} {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", raw)
}
