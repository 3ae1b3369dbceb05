// Package feishu builds Feishu (Lark) bot rich-text messages and delivers
// them to a custom bot webhook.
package feishu

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// DefaultLocale is the post locale used when none is configured.
const DefaultLocale = "zh_cn"

const (
	tagText = "text"
	tagLink = "a"
)

// Span is one fragment of a line: plain text or a link.
// Build spans with Text and Link; the zero value is not a valid span.
type Span struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// Text returns a plain text span.
func Text(s string) Span {
	return Span{Tag: tagText, Text: s}
}

// Link returns a hyperlink span.
func Link(text, href string) Span {
	return Span{Tag: tagLink, Text: text, Href: href}
}

// IsLink reports whether the span renders as a hyperlink.
func (s Span) IsLink() bool {
	return s.Tag == tagLink
}

// Line is an ordered run of spans rendered on one line.
type Line []Span

// Document is the notification sent to Feishu: a title and its lines.
type Document struct {
	Title string `json:"title"`
	Lines []Line `json:"content"`
}

// PlainText renders the line without markup. Links contribute their text only.
func (l Line) PlainText() string {
	var n int
	for _, s := range l {
		n += len(s.Text)
	}
	b := make([]byte, 0, n)
	for _, s := range l {
		b = append(b, s.Text...)
	}
	return string(b)
}

// Message is the wire envelope for a "post" bot message.
type Message struct {
	Content   Content `json:"content"`
	MsgType   string  `json:"msg_type"`
	Timestamp string  `json:"timestamp,omitempty"`
	Sign      string  `json:"sign,omitempty"`
}

// Content wraps the localized posts.
type Content struct {
	Post map[string]Document `json:"post"`
}

// NewMessage wraps doc in a post envelope under the given locale.
func NewMessage(doc Document, locale string) Message {
	if locale == "" {
		locale = DefaultLocale
	}
	if doc.Lines == nil {
		doc.Lines = []Line{}
	}
	return Message{
		MsgType: "post",
		Content: Content{Post: map[string]Document{locale: doc}},
	}
}

// Signed returns a copy of m carrying timestamp and sign fields for a bot
// with signature verification enabled.
func (m Message) Signed(secret string, now time.Time) Message {
	ts := strconv.FormatInt(now.Unix(), 10)
	m.Timestamp = ts
	m.Sign = Sign(ts, secret)
	return m
}

// Sign computes the Feishu bot signature: HMAC-SHA256 keyed with
// "<timestamp>\n<secret>" over an empty message, base64 encoded.
func Sign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(timestamp+"\n"+secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
