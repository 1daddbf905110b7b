package processors

import (
	"encoding/base64"
	"fmt"

	"github.com/conclavehq/conclave/pkg/models"
)

// HistoryItem is one entry in a per-agent view of a thread's conversation,
// built deterministically from the persisted Message log.
type HistoryItem struct {
	Role    string
	Content string
	Parts   []HistoryPart
}

// HistoryPart is a single piece of multimodal content within a HistoryItem.
type HistoryPart struct {
	Kind     string // "text", "asset_ref", "data_url", "file"
	Text     string
	URI      string
	MimeType string
}

// BuildHistory folds messages into agentName's view of the conversation, per
// §4.5.1: messages from agentName become the assistant turn, everyone else's
// (including other agents') become user turns prefixed with the sender's
// name, and tool results keep their own role. includeTargetContext appends a
// note when a message was addressed to someone other than agentName.
func BuildHistory(messages []*models.Message, agentName string, senderNames map[string]string, includeTargetContext bool) []HistoryItem {
	items := make([]HistoryItem, 0, len(messages))

	for _, m := range messages {
		switch m.SenderType {
		case models.SenderTool:
			items = append(items, HistoryItem{
				Role:    "tool",
				Content: "[Tool Result]: " + m.Content,
				Parts:   buildParts(m),
			})
			continue
		}

		isSelf := senderNames[m.SenderID] == agentName || m.SenderID == agentName
		role := "user"
		content := m.Content
		if isSelf {
			role = "assistant"
		} else {
			name := senderNames[m.SenderID]
			if name == "" {
				name = m.SenderID
			}
			content = fmt.Sprintf("[%s]: %s", name, m.Content)
		}

		if includeTargetContext {
			if target, ok := m.Metadata["targetId"].(string); ok && target != "" && target != agentName {
				targetName := senderNames[target]
				if targetName == "" {
					targetName = target
				}
				content += fmt.Sprintf("\n(addressed to: %s)", targetName)
			}
		}

		items = append(items, HistoryItem{Role: role, Content: content, Parts: buildParts(m)})
	}

	return items
}

func buildParts(m *models.Message) []HistoryPart {
	if m.Content == "" && len(m.Attachments) == 0 {
		return nil
	}
	parts := make([]HistoryPart, 0, len(m.Attachments)+1)
	if m.Content != "" {
		parts = append(parts, HistoryPart{Kind: "text", Text: m.Content})
	}
	for _, att := range m.Attachments {
		switch {
		case att.URI != "" && len(att.URI) > len("asset://") && att.URI[:len("asset://")] == "asset://":
			parts = append(parts, HistoryPart{Kind: "asset_ref", URI: att.URI, MimeType: att.MimeType})
		case len(att.Data) > 0:
			parts = append(parts, HistoryPart{Kind: "data_url", URI: dataURL(att.MimeType, att.Data), MimeType: att.MimeType})
		default:
			parts = append(parts, HistoryPart{Kind: "file", URI: att.URI, MimeType: att.MimeType})
		}
	}
	return parts
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
