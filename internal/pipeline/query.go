package pipeline

import (
	"net/url"
	"strings"
)

// ParseQuery decodes a raw query string, splitting pairs on '&' only. url.ParseQuery
// rejects ';', which width lists use (w=400;800).
func ParseQuery(raw string) url.Values {
	values := url.Values{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		values.Add(key, value)
	}
	return values
}
