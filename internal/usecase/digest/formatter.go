package digest

import (
	"fmt"
	"html"
	"strings"
	"time"

	"liuyan-board/internal/domain"
)

const (
	boardName      = "留声"
	timeLayout     = "2006-01-02 15:04"
	snippetLimit   = 200
	telegramHeader = "🗞 <b>Новые сообщения на доске «" + boardName + "»</b>"
)

// Batch — записи, появившиеся после последней успешной отправки.
type Batch struct {
	Messages []domain.Message
	Replies  []domain.Reply
	Likes    []domain.Like
}

// Empty сообщает, что отправлять нечего.
func (b Batch) Empty() bool {
	return len(b.Messages) == 0 && len(b.Replies) == 0 && len(b.Likes) == 0
}

// Subject формирует тему письма.
func Subject(now time.Time, loc *time.Location) string {
	return fmt.Sprintf("New Messages from %s - %s", boardName, now.In(loc).Format("2006-01-02"))
}

// FormatPlain формирует текстовое тело письма.
func FormatPlain(b Batch, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d new message(s)", len(b.Messages))
	if len(b.Replies) > 0 || len(b.Likes) > 0 {
		fmt.Fprintf(&sb, ", %d new reply(ies) and %d new like(s)", len(b.Replies), len(b.Likes))
	}
	sb.WriteString(":")
	for i, m := range b.Messages {
		if i > 0 {
			sb.WriteString("\n\n---")
		}
		fmt.Fprintf(&sb, "\n\n%s at %s:\n%s", m.PhoneMasked, localTime(m.TS, loc), m.Text)
		if n := len(m.ReplyIDs); n > 0 {
			fmt.Fprintf(&sb, "\n(%d replies)", n)
		}
	}
	return sb.String()
}

// FormatHTML формирует HTML-тело письма. Текст сообщений экранируется.
func FormatHTML(b Batch, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(`<html><body style="font-family: sans-serif; line-height: 1.6;">`)
	sb.WriteString(`<h1 style="color: #333;">Daily Messages Summary</h1>`)
	fmt.Fprintf(&sb, "<p>You have %d new message(s), %d reply(ies) and %d like(s) since the last summary.</p><hr>",
		len(b.Messages), len(b.Replies), len(b.Likes))
	for _, m := range b.Messages {
		sb.WriteString(`<div style="margin-bottom: 1.5em; padding: 1em; border-left: 3px solid #F38020; background-color: #f9f9f9;">`)
		fmt.Fprintf(&sb, `<p style="margin: 0; color: #555;"><strong>%s</strong> - <span style="font-size: 0.9em; color: #777;">%s</span></p>`,
			escapeHTML(m.PhoneMasked), localTime(m.TS, loc))
		fmt.Fprintf(&sb, `<p style="margin-top: 0.5em; color: #333;">%s</p>`, escapeHTML(m.Text))
		sb.WriteString("</div>")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

// FormatTelegram формирует сообщение в подмножестве HTML, которое принимает Telegram.
func FormatTelegram(b Batch, loc *time.Location) string {
	sections := []string{telegramHeader}
	sections = append(sections, fmt.Sprintf("Сообщений: %d, ответов: %d, лайков: %d", len(b.Messages), len(b.Replies), len(b.Likes)))
	for _, m := range b.Messages {
		line := fmt.Sprintf("<b>%s</b> · <i>%s</i>\n%s", escapeHTML(m.PhoneMasked), localTime(m.TS, loc), escapeHTML(strings.TrimSpace(m.Text)))
		if n := len(m.ReplyIDs); n > 0 {
			line += fmt.Sprintf("\n💬 %d", n)
		}
		sections = append(sections, line)
	}
	return strings.Join(sections, "\n\n")
}

func mockSummary(b Batch) string {
	return fmt.Sprintf("Mock send: %d messages, %d replies, %d likes.", len(b.Messages), len(b.Replies), len(b.Likes))
}

func localTime(ts int64, loc *time.Location) string {
	return time.UnixMilli(ts).In(loc).Format(timeLayout)
}

// truncate обрезает ответ канала до короткого фрагмента для журнала.
func truncate(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= snippetLimit {
		return s
	}
	return string(runes[:snippetLimit-1]) + "…"
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
