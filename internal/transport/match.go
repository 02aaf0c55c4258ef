package transport

import "strings"

// ValidFilter reports whether filter is a well-formed subscription filter:
// non-empty, "+" and "#" only as whole levels, "#" only last.
func ValidFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return false
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return false
		}
	}
	return true
}

// ValidTopic reports whether topic is usable as a publish topic.
func ValidTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}

// Match reports whether a concrete topic matches a subscription filter.
//
//	Match("P/users/+", "P/users/alice")      // true
//	Match("P/sys/#", "P/sys/mgmt/users/bob") // true
//	Match("P/users/+", "P/users/a/b")        // false
func Match(filter, topic string) bool {
	for {
		var fl, tl string
		var fMore, tMore bool
		fl, filter, fMore = strings.Cut(filter, "/")
		tl, topic, tMore = strings.Cut(topic, "/")

		switch fl {
		case "#":
			return true
		case "+":
		default:
			if fl != tl {
				return false
			}
		}

		if !fMore || !tMore {
			// "a/#" also matches the parent level "a".
			if fMore && !tMore && filter == "#" {
				return true
			}
			return fMore == tMore
		}
	}
}
