package transport

import (
	"fmt"
	"strings"
)

const (
	singleWildcard = "*"
	multiWildcard  = "**"
)

// ValidatePattern checks that pattern is a well formed topic pattern:
// non-empty segments separated by '/', with "**" allowed only as the last
// segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty topic pattern")
	}
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("topic pattern %q has an empty segment", pattern)
		}
		if seg == multiWildcard && i != len(segments)-1 {
			return fmt.Errorf("topic pattern %q: %q must be the last segment", pattern, multiWildcard)
		}
		if seg != singleWildcard && seg != multiWildcard && strings.Contains(seg, "*") {
			return fmt.Errorf("topic pattern %q: wildcards must span a whole segment", pattern)
		}
	}
	return nil
}

// ValidateTopic checks that topic is concrete (no wildcards, no empty segments).
func ValidateTopic(topic string) error {
	if strings.Contains(topic, "*") {
		return fmt.Errorf("topic %q must not contain wildcards", topic)
	}
	return ValidatePattern(topic)
}

// Match reports whether topic matches pattern. "*" matches exactly one
// segment; a trailing "**" matches any number of trailing segments,
// including none.
func Match(pattern, topic string) bool {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	for i, seg := range ps {
		if seg == multiWildcard && i == len(ps)-1 {
			return len(ts) >= i
		}
		if i >= len(ts) {
			return false
		}
		if seg == singleWildcard {
			if ts[i] == "" {
				return false
			}
			continue
		}
		if seg != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}

// HasWildcard reports whether pattern contains a wildcard segment.
func HasWildcard(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == singleWildcard || seg == multiWildcard {
			return true
		}
	}
	return false
}
