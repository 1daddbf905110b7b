package processors

import (
	"testing"

	"github.com/conclavehq/conclave/pkg/models"
)

func TestBuildHistoryRoles(t *testing.T) {
	messages := []*models.Message{
		{SenderID: "u1", SenderType: models.SenderUser, Content: "hi there"},
		{SenderID: "nova", SenderType: models.SenderAgent, Content: "hello!"},
		{SenderID: "atlas", SenderType: models.SenderAgent, Content: "hey"},
		{SenderID: "t1", SenderType: models.SenderTool, Content: `{"ok":true}`},
	}
	names := map[string]string{"u1": "Dana", "nova": "Nova", "atlas": "Atlas"}

	items := BuildHistory(messages, "Nova", names, false)
	if len(items) != 4 {
		t.Fatalf("got %d items, want 4", len(items))
	}
	if items[0].Role != "user" || items[0].Content != "[Dana]: hi there" {
		t.Errorf("item0 = %+v", items[0])
	}
	if items[1].Role != "assistant" || items[1].Content != "hello!" {
		t.Errorf("item1 = %+v", items[1])
	}
	if items[2].Role != "user" || items[2].Content != "[Atlas]: hey" {
		t.Errorf("item2 = %+v", items[2])
	}
	if items[3].Role != "tool" || items[3].Content != `[Tool Result]: {"ok":true}` {
		t.Errorf("item3 = %+v", items[3])
	}
}

func TestBuildHistoryIncludesTargetContext(t *testing.T) {
	messages := []*models.Message{
		{SenderID: "atlas", SenderType: models.SenderAgent, Content: "over to you", Metadata: map[string]any{"targetId": "nova"}},
	}
	names := map[string]string{"atlas": "Atlas", "nova": "Nova"}

	items := BuildHistory(messages, "zephyr", names, true)
	want := "[Atlas]: over to you\n(addressed to: Nova)"
	if items[0].Content != want {
		t.Errorf("got %q, want %q", items[0].Content, want)
	}
}
