package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ClockTime is a time of day as seconds since local midnight.
type ClockTime int

// Clock builds a ClockTime from hours and minutes.
func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*3600 + minute*60)
}

// ClockOf returns the wall-clock time of day of t in its own location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// ParseClock parses "HH:MM" or "HH:MM:SS". "24:00" is accepted as end of day.
func ParseClock(s string) (ClockTime, error) {
	var h, m, sec int
	if n, _ := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); n < 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || sec < 0 || sec > 59 || (h == 24 && (m > 0 || sec > 0)) {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return ClockTime(h*3600 + m*60 + sec), nil
}

func (c ClockTime) Hour() int { return int(c) / 3600 }

func (c ClockTime) String() string {
	if int(c)%60 != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", int(c)/3600, int(c)%3600/60, int(c)%60)
	}
	return fmt.Sprintf("%02d:%02d", int(c)/3600, int(c)%3600/60)
}

// UnmarshalYAML accepts "HH:MM" scalars.
func (c *ClockTime) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseClock(value.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML writes the "HH:MM" form.
func (c ClockTime) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid clock time %s", data)
	}
	parsed, err := ParseClock(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeWindow is a half-open time-of-day range [Start, End). When Start > End the window wraps
// past midnight; Start == End is empty.
type TimeWindow struct {
	Name  string    `yaml:"name,omitempty" json:"name,omitempty"`
	Start ClockTime `yaml:"start" json:"start"`
	End   ClockTime `yaml:"end" json:"end"`
}

// Wraps reports whether the window spans midnight.
func (w TimeWindow) Wraps() bool {
	return w.Start > w.End
}

// ContainsClock reports whether c falls inside the window.
func (w TimeWindow) ContainsClock(c ClockTime) bool {
	if w.Wraps() {
		return c >= w.Start || c < w.End
	}
	return c >= w.Start && c < w.End
}

// Duration is the length of the window.
func (w TimeWindow) Duration() time.Duration {
	span := int(w.End) - int(w.Start)
	if w.Wraps() {
		span += 24 * 3600
	}
	return time.Duration(span) * time.Second
}

func (w TimeWindow) String() string {
	return w.Start.String() + "-" + w.End.String()
}
