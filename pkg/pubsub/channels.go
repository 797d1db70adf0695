package pubsub

import (
	"fmt"
	"strings"
)

// Channel namespaces. A channel is "{namespace}:{topic}".
const (
	NamespaceNotification = "notification"
	NamespaceChatRoom     = "chat:room"
)

// Subscription patterns covering every topic of a namespace.
const (
	PatternNotification = NamespaceNotification + ":*"
	PatternChatRoom     = NamespaceChatRoom + ":*"
)

// Event types.
const (
	EventNotification = "notification"
	EventChatMessage  = "chat.message"
	EventChatLeft     = "chat.left"
	EventChatRead     = "chat.read"
)

// NotificationChannel returns the channel carrying notifications for a receiver.
func NotificationChannel(nickname string) string {
	return NamespaceNotification + ":" + nickname
}

// RoomChannel returns the channel carrying messages of a chat room.
func RoomChannel(roomID string) string {
	return NamespaceChatRoom + ":" + roomID
}

// ParseChannel splits a channel into its namespace and topic.
//
//	"notification:alice"  → ("notification", "alice")
//	"chat:room:1f0c…"     → ("chat:room", "1f0c…")
func ParseChannel(channel string) (namespace, topic string, err error) {
	for _, ns := range []string{NamespaceChatRoom, NamespaceNotification} {
		prefix := ns + ":"
		if strings.HasPrefix(channel, prefix) && len(channel) > len(prefix) {
			return ns, channel[len(prefix):], nil
		}
	}
	return "", "", fmt.Errorf("invalid channel format: %s", channel)
}

// ParsePattern returns the namespace of a "{namespace}:*" pattern.
func ParsePattern(pattern string) (string, error) {
	if !strings.HasSuffix(pattern, ":*") {
		return "", fmt.Errorf("invalid pattern format: %s", pattern)
	}
	ns := strings.TrimSuffix(pattern, ":*")
	switch ns {
	case NamespaceNotification, NamespaceChatRoom:
		return ns, nil
	default:
		return "", fmt.Errorf("unknown pattern namespace: %s", pattern)
	}
}

// matchPattern reports whether channel matches a subscription pattern.
// Only exact names and a trailing "*" wildcard are supported.
func matchPattern(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}
