/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Rate describes the frequency of requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// ParseRate parses a rate in the "N/(s|m|h)" form, e.g. "10/s", "100/m", "1000/h".
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rate{}, nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h), for example 10/s, 100/m, 1000/h", s)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Rate{}, incorrectFormatErr
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count < 0 {
		return Rate{}, incorrectFormatErr
	}
	var dur time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		return Rate{}, incorrectFormatErr
	}
	return Rate{Count: count, Duration: dur}, nil
}

// IsZero reports whether the rate is not set.
func (r Rate) IsZero() bool {
	return r.Count == 0 || r.Duration == 0
}

// String returns the rate in the "N/(s|m|h)" form.
func (r Rate) String() string {
	if r.IsZero() {
		return ""
	}
	switch r.Duration {
	case time.Second:
		return fmt.Sprintf("%d/s", r.Count)
	case time.Minute:
		return fmt.Sprintf("%d/m", r.Count)
	case time.Hour:
		return fmt.Sprintf("%d/h", r.Count)
	}
	return fmt.Sprintf("%d/%s", r.Count, r.Duration)
}

// UnmarshalText allows decoding the rate from config strings.
func (r *Rate) UnmarshalText(text []byte) error {
	parsed, err := ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText encodes the rate as a string.
func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalJSON decodes the rate from a JSON string.
func (r *Rate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}

// UnmarshalYAML decodes the rate from a YAML string.
func (r *Rate) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}

// HostList is a list of host glob patterns. It may be set either as an array or as a comma-separated string.
type HostList []string

// UnmarshalText splits a comma-separated list.
func (l *HostList) UnmarshalText(text []byte) error {
	var hosts HostList
	for _, h := range strings.Split(string(text), ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	*l = hosts
	return nil
}

// UnmarshalJSON accepts both an array and a comma-separated string.
func (l *HostList) UnmarshalJSON(data []byte) error {
	var hosts []string
	if err := json.Unmarshal(data, &hosts); err == nil {
		*l = hosts
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hosts should be an array or a comma-separated string")
	}
	return l.UnmarshalText([]byte(s))
}

// DecodeHook returns the mapstructure hook that decodes rules loaded via config.DataProvider.Unmarshal.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		trimSpacesHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

func trimSpacesHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	return strings.TrimSpace(data.(string)), nil
}
