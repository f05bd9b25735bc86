package mqtt

import "strings"

// Topic layout for inbound gateway traffic: "<family>/<deviceId>/<category>".
const (
	// topicSeparator splits topic levels.
	topicSeparator = "/"

	// singleLevelWildcard matches exactly one topic segment.
	singleLevelWildcard = "+"

	// multiLevelWildcard matches zero or more remaining segments. Only
	// valid as the last pattern segment.
	multiLevelWildcard = "#"
)

// MatchTopic reports whether a concrete topic matches a subscription
// pattern under MQTT wildcard rules: "+" matches one segment, "#"
// matches the remainder (including zero segments).
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}

	patternSegs := strings.Split(pattern, topicSeparator)
	topicSegs := strings.Split(topic, topicSeparator)

	for i, seg := range patternSegs {
		if seg == multiLevelWildcard {
			return i == len(patternSegs)-1
		}
		if i >= len(topicSegs) {
			return false
		}
		if seg != singleLevelWildcard && seg != topicSegs[i] {
			return false
		}
	}
	return len(patternSegs) == len(topicSegs)
}

// DeviceID extracts the device identifier (segment 2) from an inbound
// topic, or "" when absent.
func DeviceID(topic string) string {
	segs := strings.Split(topic, topicSeparator)
	if len(segs) < 2 {
		return ""
	}
	return segs[1]
}

// Family extracts the leading family token from an inbound topic.
func Family(topic string) string {
	seg, _, _ := strings.Cut(topic, topicSeparator)
	return seg
}
