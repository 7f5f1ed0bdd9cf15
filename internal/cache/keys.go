package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// GET /channels/{id}
// channel:{id}:detail
func ChannelDetailKey(channelID int64) string {
	return fmt.Sprintf("channel:%d:detail", channelID)
}

// GET /channels/{id}/messages/{mid}
// message:{mid}:detail
func MessageDetailKey(messageID string) string {
	return fmt.Sprintf("message:%s:detail", url.PathEscape(strings.TrimSpace(messageID)))
}

// Для хранения всех ключей представлений канала (инвалидация без SCAN)
func ChannelKeysSetKey(channelID int64) string {
	return fmt.Sprintf("channel:%d:keys", channelID)
}
