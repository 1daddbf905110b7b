package processors

import (
	"reflect"
	"testing"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"none", "hello world", nil},
		{"single", "hey @researcher can you look at this", []string{"researcher"}},
		{"multiple", "@alice @bob.smith please review", []string{"alice", "bob.smith"}},
		{"email not mentioned", "contact me at a@b.com", nil},
		{"trailing punctuation", "ping @ops-bot.", []string{"ops-bot"}},
		{"leading at-word-char excluded", "x@y is not a mention", nil},
		{"mention at string start", "@lead status?", []string{"lead"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.content)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestStripSelfPrefix(t *testing.T) {
	if got := StripSelfPrefix("[Nova]: all done", "Nova"); got != "all done" {
		t.Errorf("got %q", got)
	}
	if got := StripSelfPrefix("@Nova thanks!", "Nova"); got != "thanks!" {
		t.Errorf("got %q", got)
	}
	if got := StripSelfPrefix("no prefix here", "Nova"); got != "no prefix here" {
		t.Errorf("got %q", got)
	}
}

func TestResolveRouting(t *testing.T) {
	target, queue := ResolveRouting("@alice @bob thanks", nil, "sender-1")
	if target != "alice" || !reflect.DeepEqual(queue, []string{"bob"}) {
		t.Errorf("got target=%q queue=%v", target, queue)
	}

	target, queue = ResolveRouting("no mentions here", []string{"carol", "dave"}, "sender-1")
	if target != "carol" || !reflect.DeepEqual(queue, []string{"dave"}) {
		t.Errorf("got target=%q queue=%v", target, queue)
	}

	target, queue = ResolveRouting("no mentions here", nil, "sender-1")
	if target != "sender-1" || queue != nil {
		t.Errorf("got target=%q queue=%v", target, queue)
	}
}
