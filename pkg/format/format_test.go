package format

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/larkhook/pkg/feishu"
)

func mustParse(t *testing.T, body string) *Payload {
	t.Helper()
	p, _ := ParsePayload([]byte(body)) //nolint:errcheck // malformed bodies are part of the cases
	return p
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		eventType string
		want      Kind
	}{
		{"issues", Issues},
		{"issue_comment", IssueComment},
		{"push", Push},
		{"pull_request", PullRequest},
		{"release", Other},
		{"ping", Other},
		{"Issues", Other},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			if got := ParseKind(tt.eventType); got != tt.want {
				t.Errorf("ParseKind(%q) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestTitleContainsKind(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"issues", "GitHub Issues event"},
		{"issue_comment", "GitHub Issue Comment event"},
		{"push", "GitHub Push event"},
		{"pull_request", "GitHub Pull Request event"},
		{"release", "GitHub release event"},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			doc, err := Format(tt.eventType, mustParse(t, `{}`))
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			if doc.Title != tt.want {
				t.Errorf("title = %q, want %q", doc.Title, tt.want)
			}
			if kind := ParseKind(tt.eventType); kind != Other && !strings.Contains(doc.Title, kind.String()) {
				t.Errorf("title %q does not contain %q", doc.Title, kind.String())
			}
		})
	}
}

func TestFormatIssuesOpened(t *testing.T) {
	p := mustParse(t, `{
		"action": "opened",
		"issue": {"title": "Crash on start", "html_url": "https://github.com/o/r/issues/7"},
		"repository": {"full_name": "o/r", "html_url": "https://github.com/o/r"},
		"sender": {"login": "alice"}
	}`)

	doc, err := Format("issues", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if len(doc.Lines) < 2 {
		t.Fatalf("got %d lines, want at least 2", len(doc.Lines))
	}

	second := doc.Lines[1]
	text := second.PlainText()
	if !strings.Contains(text, "alice") || !strings.Contains(text, "opened") {
		t.Errorf("second line %q should mention sender and action", text)
	}
	var found bool
	for _, s := range second {
		if s.IsLink() && s.Href == "https://github.com/o/r/issues/7" {
			found = true
			if s.Text != "Crash on start" {
				t.Errorf("link text = %q", s.Text)
			}
		}
	}
	if !found {
		t.Errorf("second line has no link to the issue: %+v", second)
	}

	repo := doc.Lines[0][1]
	if !repo.IsLink() || repo.Text != "o/r" || repo.Href != "https://github.com/o/r" {
		t.Errorf("repo span = %+v", repo)
	}
}

func TestFormatIssueComment(t *testing.T) {
	long := strings.Repeat("x", 3000)
	p := mustParse(t, fmt.Sprintf(`{
		"action": "created",
		"issue": {"title": "Crash", "html_url": "https://github.com/o/r/issues/7"},
		"comment": {"body": %q},
		"repository": {"full_name": "o/r", "html_url": "https://github.com/o/r"},
		"sender": {"login": "bob"}
	}`, long))

	doc, err := Format("issue_comment", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if len(doc.Lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(doc.Lines))
	}
	if got := doc.Lines[1].PlainText(); got != "bob created comment on: Crash" {
		t.Errorf("second line = %q", got)
	}
	// Comment bodies are forwarded verbatim.
	if got := doc.Lines[2].PlainText(); got != long {
		t.Errorf("comment body length = %d, want %d", len(got), len(long))
	}
}

func TestFormatPush(t *testing.T) {
	p := mustParse(t, `{
		"ref": "refs/heads/main",
		"pusher": {"name": "carol"},
		"repository": {"full_name": "o/r", "html_url": "https://github.com/o/r"},
		"commits": [
			{"message": "fix tests", "url": "https://github.com/o/r/commit/a"},
			{"message": "bump deps", "url": "https://github.com/o/r/commit/b"}
		]
	}`)

	doc, err := Format("push", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got := doc.Lines[1].PlainText(); got != "carol pushed to refs/heads/main" {
		t.Errorf("second line = %q", got)
	}
	want := "- fix tests (https://github.com/o/r/commit/a)\n- bump deps (https://github.com/o/r/commit/b)..."
	if got := doc.Lines[2].PlainText(); got != want {
		t.Errorf("commit log = %q, want %q", got, want)
	}
}

func TestFormatPushTruncatesCommitLog(t *testing.T) {
	var commits []string
	for i := range 40 {
		commits = append(commits, fmt.Sprintf(`{"message": "commit number %02d with a reasonably long message", "url": "https://github.com/o/r/commit/%040d"}`, i, i))
	}
	p := mustParse(t, `{"ref": "refs/heads/main", "commits": [`+strings.Join(commits, ",")+`]}`)

	doc, err := Format("push", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	log := doc.Lines[2].PlainText()
	if !strings.HasSuffix(log, Ellipsis) {
		t.Fatalf("commit log should end with %q", Ellipsis)
	}
	body := strings.TrimSuffix(log, Ellipsis)
	if n := utf8.RuneCountInString(body); n != MaxTextLength {
		t.Errorf("truncated log has %d characters, want %d", n, MaxTextLength)
	}
	if !strings.HasPrefix(body, "- commit number 00") {
		t.Errorf("log should start with the first commit: %q", body[:40])
	}
}

func TestFormatPullRequest(t *testing.T) {
	p := mustParse(t, `{
		"action": "opened",
		"pull_request": {"title": "Fix bug", "html_url": "https://x/1"},
		"repository": {"full_name": "o/r", "html_url": "https://x"},
		"sender": {"login": "alice"}
	}`)

	doc, err := Format("pull_request", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := feishu.Line{feishu.Text("alice opened pull request: "), feishu.Link("Fix bug", "https://x/1")}
	if got := doc.Lines[1]; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("second line = %+v, want %+v", got, want)
	}
}

func TestFormatGenericMissingRepository(t *testing.T) {
	p := mustParse(t, `{"zen": "Keep it logically awesome.", "hook_id": 1}`)

	doc, err := Format("ping", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if doc.Title != "GitHub ping event" {
		t.Errorf("title = %q", doc.Title)
	}
	repo := doc.Lines[0][1]
	if repo.Text != "unknown repository" || repo.Href != "#" {
		t.Errorf("repo span = %+v, want unknown repository with # href", repo)
	}
	if got := doc.Lines[1].PlainText(); got != "Triggered by: unknown user" {
		t.Errorf("actor line = %q", got)
	}
	dumpText := doc.Lines[2].PlainText()
	if !strings.Contains(dumpText, `"zen": "Keep it logically awesome."`) {
		t.Errorf("dump missing payload fields: %q", dumpText)
	}
	if !strings.HasSuffix(dumpText, Ellipsis) {
		t.Errorf("dump should end with %q even when short", Ellipsis)
	}
}

func TestFormatGenericWithRepositoryAndAction(t *testing.T) {
	p := mustParse(t, `{
		"action": "published",
		"release": {"tag_name": "v1.0.0", "body": "`+strings.Repeat("notes ", 400)+`"},
		"repository": {"full_name": "o/r", "html_url": "https://github.com/o/r"},
		"sender": {"login": "dave"}
	}`)

	doc, err := Format("release", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if doc.Lines[0][1].Href != "https://github.com/o/r" {
		t.Errorf("repo href = %q", doc.Lines[0][1].Href)
	}
	if got := doc.Lines[1].PlainText(); got != "Triggered by: dave (published)" {
		t.Errorf("actor line = %q", got)
	}
	body := strings.TrimSuffix(doc.Lines[2].PlainText(), Ellipsis)
	if n := utf8.RuneCountInString(body); n != MaxTextLength {
		t.Errorf("dump has %d characters, want %d", n, MaxTextLength)
	}
}

func TestFormatGenericDumpKeepsPayloadAsSent(t *testing.T) {
	p := mustParse(t, `{"zeta":1,"alpha":"<b>&x</b>","id":9007199254740993}`)

	doc, err := Format("release", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	got := strings.TrimSuffix(doc.Lines[2].PlainText(), Ellipsis)
	want := "{\n  \"zeta\": 1,\n  \"alpha\": \"<b>&x</b>\",\n  \"id\": 9007199254740993\n}"
	if got != want {
		t.Errorf("dump = %q, want %q", got, want)
	}
}

func TestFormatGenericDumpNonObject(t *testing.T) {
	for _, body := range []string{`[1,2]`, `null`, `{broken`} {
		t.Run(body, func(t *testing.T) {
			doc, err := Format("ping", mustParse(t, body))
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			if got := doc.Lines[2].PlainText(); got != "{}"+Ellipsis {
				t.Errorf("dump = %q, want empty object", got)
			}
		})
	}
}

func TestFormatMissingFieldsDefaultToUnknown(t *testing.T) {
	doc, err := Format("issues", mustParse(t, `not json`))
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got := doc.Lines[1].PlainText(); got != "unknown unknown issue: unknown" {
		t.Errorf("second line = %q", got)
	}
	if doc.Lines[1][1].Href != "#" {
		t.Errorf("issue href = %q, want #", doc.Lines[1][1].Href)
	}
	if doc.Lines[0][1].Text != "unknown" {
		t.Errorf("repo text = %q", doc.Lines[0][1].Text)
	}
}

func TestFormatMistypedFieldKeepsOthers(t *testing.T) {
	p := mustParse(t, `{"action": "opened", "sender": "not-an-object", "issue": {"title": "T", "html_url": "https://x/2"}}`)

	doc, err := Format("issues", p)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got := doc.Lines[1].PlainText(); got != "unknown opened issue: T" {
		t.Errorf("second line = %q", got)
	}
}

func TestFormatEmptyEventType(t *testing.T) {
	if _, err := Format("", mustParse(t, `{}`)); !errors.Is(err, ErrUnhandled) {
		t.Errorf("Format(\"\") error = %v, want ErrUnhandled", err)
	}
	if _, err := Format("  ", nil); !errors.Is(err, ErrUnhandled) {
		t.Errorf("Format(blank) error = %v, want ErrUnhandled", err)
	}
}

func TestFormatNilPayload(t *testing.T) {
	doc, err := Format("push", nil)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got := doc.Lines[2].PlainText(); got != Ellipsis {
		t.Errorf("empty commit log = %q, want %q", got, Ellipsis)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int // characters before the suffix
	}{
		{name: "empty", in: "", want: 0},
		{name: "short", in: "abc", want: 3},
		{name: "exact", in: strings.Repeat("a", MaxTextLength), want: MaxTextLength},
		{name: "long", in: strings.Repeat("a", MaxTextLength+1), want: MaxTextLength},
		{name: "multibyte", in: strings.Repeat("提交", MaxTextLength), want: MaxTextLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in)
			if !strings.HasSuffix(got, Ellipsis) {
				t.Fatalf("Truncate() = %q, missing suffix", got)
			}
			if n := utf8.RuneCountInString(strings.TrimSuffix(got, Ellipsis)); n != tt.want {
				t.Errorf("kept %d characters, want %d", n, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Error("Truncate() produced invalid UTF-8")
			}
		})
	}
}
