package augment

import (
	"strings"

	"github.com/xaenox/guildscribe/internal/models"
)

const continuationMarker = "> continuing from"

// CombineBotMessages gathers every bot message that replies to humanID,
// directly or through other bot replies, depth first. Siblings keep the
// order of msgs, so callers should sort by timestamp first. Each message is
// visited at most once, which makes reply cycles terminate.
func CombineBotMessages(msgs []*models.Message, humanID string) string {
	replies := make(map[string][]*models.Message)
	for _, m := range msgs {
		if m.IsBot && m.ParentMessageID != nil {
			replies[*m.ParentMessageID] = append(replies[*m.ParentMessageID], m)
		}
	}

	visited := map[string]bool{humanID: true}
	var parts []string
	var walk func(id string)
	walk = func(id string) {
		for _, m := range replies[id] {
			if visited[m.ID] {
				continue
			}
			visited[m.ID] = true
			if text := stripContinuation(m.Content); text != "" {
				parts = append(parts, text)
			}
			walk(m.ID)
		}
	}
	walk(humanID)

	return strings.Join(parts, "\n\n")
}

func stripContinuation(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), continuationMarker) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// MessagePair is a human message together with the full bot response to it.
type MessagePair struct {
	Message  *models.Message
	Response string
}

// Text renders the pair for embedding.
func (p MessagePair) Text() string {
	return p.Message.Content + "\n\n" + p.Response
}

// MessagePairs returns a pair for every human message that got a bot reply.
func MessagePairs(msgs []*models.Message) []MessagePair {
	var pairs []MessagePair
	for _, m := range msgs {
		if m.IsBot {
			continue
		}
		if resp := CombineBotMessages(msgs, m.ID); resp != "" {
			pairs = append(pairs, MessagePair{Message: m, Response: resp})
		}
	}
	return pairs
}

// SortByTimestamp establishes the ordering CombineBotMessages relies on.
func SortByTimestamp(msgs []*models.Message) {
	models.SortMessages(msgs)
}
