package bot

import (
	"fmt"
	"strings"

	"github.com/zulandar/qotd/internal/platform"
)

// FormatAnswer builds the message republished for one answer: the question
// as a header, an attribution line with the avatar, and the answer quoted
// line by line.
func FormatAnswer(question, userID, answer, avatarURL string) platform.Message {
	quoted := QuoteLines(answer)
	attribution := "Answer from " + platform.Mention(userID)

	blocks := []platform.Block{
		{Kind: platform.BlockHeader, Text: "Q: " + question},
		{Kind: platform.BlockContext, Text: attribution, ImageURL: avatarURL, AltText: userID},
		{Kind: platform.BlockSection, Text: quoted},
	}
	return platform.Message{
		Text:   fmt.Sprintf("Q: %s\n%s\n%s", question, attribution, quoted),
		Blocks: blocks,
	}
}

// QuoteLines prefixes every line of text with "> ". CRLF and CR line
// endings are normalised to LF first.
func QuoteLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// Announcement renders the daily parent message, replacing {date} with day.
func Announcement(template, day string) string {
	return strings.ReplaceAll(template, "{date}", day)
}
