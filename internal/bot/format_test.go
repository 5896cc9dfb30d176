package bot

import (
	"strings"
	"testing"

	"github.com/zulandar/qotd/internal/platform"
)

func TestFormatAnswer_QuotesEveryLine(t *testing.T) {
	msg := FormatAnswer("Favourite tool?", "U1", "line1\nline2", "")

	var body string
	for _, b := range msg.Blocks {
		if b.Kind == platform.BlockSection {
			body = b.Text
		}
	}
	if body != "> line1\n> line2" {
		t.Errorf("quoted body = %q, want %q", body, "> line1\n> line2")
	}
	if !strings.Contains(msg.Text, "> line1\n> line2") {
		t.Errorf("fallback text missing quoted answer: %q", msg.Text)
	}
}

func TestFormatAnswer_Blocks(t *testing.T) {
	msg := FormatAnswer("Favourite tool?", "U1", "vim", "https://img/u1.png")

	if len(msg.Blocks) != 3 {
		t.Fatalf("len(Blocks) = %d, want 3", len(msg.Blocks))
	}
	if b := msg.Blocks[0]; b.Kind != platform.BlockHeader || b.Text != "Q: Favourite tool?" {
		t.Errorf("header = %+v", b)
	}
	ctx := msg.Blocks[1]
	if ctx.Kind != platform.BlockContext || ctx.Text != "Answer from <@U1>" {
		t.Errorf("context = %+v", ctx)
	}
	if ctx.ImageURL != "https://img/u1.png" {
		t.Errorf("context ImageURL = %q", ctx.ImageURL)
	}
	if msg.ThreadAnchor != "" {
		t.Errorf("formatter must not set ThreadAnchor, got %q", msg.ThreadAnchor)
	}
}

func TestFormatAnswer_NoAvatar(t *testing.T) {
	msg := FormatAnswer("Q", "U1", "A", "")
	for _, b := range msg.Blocks {
		if b.ImageURL != "" || b.Kind == platform.BlockImage {
			t.Errorf("unexpected image in %+v", b)
		}
	}
}

func TestQuoteLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single", "hello", "> hello"},
		{"multi", "a\nb\nc", "> a\n> b\n> c"},
		{"crlf", "a\r\nb", "> a\n> b"},
		{"blank line kept", "a\n\nb", "> a\n> \n> b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuoteLines(tt.in); got != tt.want {
				t.Errorf("QuoteLines(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAnnouncement(t *testing.T) {
	if got := Announcement("Answers for {date}", "2026-10-17"); got != "Answers for 2026-10-17" {
		t.Errorf("Announcement = %q", got)
	}
	if got := Announcement("Daily answers", "2026-10-17"); got != "Daily answers" {
		t.Errorf("Announcement without placeholder = %q", got)
	}
}
