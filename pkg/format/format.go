// Package format turns GitHub webhook events into Feishu notification documents.
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/larkhook/pkg/feishu"
)

const (
	// MaxTextLength is the number of characters kept from commit logs and
	// payload dumps before Ellipsis is appended.
	MaxTextLength = 1000
	// Ellipsis is appended to every truncated block, whether or not it was cut.
	Ellipsis = "..."

	unknown         = "unknown"
	unknownUser     = "unknown user"
	unknownRepo     = "unknown repository"
	placeholderHref = "#"
)

// ErrUnhandled is returned when an event cannot be formatted.
var ErrUnhandled = errors.New("unhandled event")

// Kind is the closed set of event kinds with a dedicated formatter.
type Kind int

// Event kinds. Other covers every event type without its own layout.
const (
	Other Kind = iota
	Issues
	IssueComment
	Push
	PullRequest
)

// ParseKind maps an X-GitHub-Event value to a Kind.
func ParseKind(eventType string) Kind {
	switch eventType {
	case "issues":
		return Issues
	case "issue_comment":
		return IssueComment
	case "push":
		return Push
	case "pull_request":
		return PullRequest
	default:
		return Other
	}
}

// String returns the display name used in notification titles.
func (k Kind) String() string {
	switch k {
	case Issues:
		return "Issues"
	case IssueComment:
		return "Issue Comment"
	case Push:
		return "Push"
	case PullRequest:
		return "Pull Request"
	case Other:
		return "Other"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Format builds the notification for one event. It returns ErrUnhandled
// only when eventType is empty; unknown types use the generic layout.
func Format(eventType string, p *Payload) (feishu.Document, error) {
	if strings.TrimSpace(eventType) == "" {
		return feishu.Document{}, ErrUnhandled
	}
	if p == nil {
		p = &Payload{}
	}

	kind := ParseKind(eventType)
	switch kind {
	case Issues:
		return issues(p), nil
	case IssueComment:
		return issueComment(p), nil
	case Push:
		return push(p), nil
	case PullRequest:
		return pullRequest(p), nil
	case Other:
		return generic(eventType, p), nil
	default:
		return generic(eventType, p), nil
	}
}

func title(k Kind) string {
	return "GitHub " + k.String() + " event"
}

func issues(p *Payload) feishu.Document {
	var t, href string
	if p.Issue != nil {
		t, href = p.Issue.Title, p.Issue.HTMLURL
	}
	return feishu.Document{
		Title: title(Issues),
		Lines: []feishu.Line{
			repoLine(p, unknown),
			{
				feishu.Text(fmt.Sprintf("%s %s issue: ", login(p, unknown), or(p.Action, unknown))),
				feishu.Link(or(t, unknown), or(href, placeholderHref)),
			},
		},
	}
}

func issueComment(p *Payload) feishu.Document {
	var t, href, body string
	if p.Issue != nil {
		t, href = p.Issue.Title, p.Issue.HTMLURL
	}
	if p.Comment != nil {
		body = p.Comment.Body
	}
	return feishu.Document{
		Title: title(IssueComment),
		Lines: []feishu.Line{
			repoLine(p, unknown),
			{
				feishu.Text(fmt.Sprintf("%s %s comment on: ", login(p, unknown), or(p.Action, unknown))),
				feishu.Link(or(t, unknown), or(href, placeholderHref)),
			},
			{feishu.Text(or(body, unknown))},
		},
	}
}

func push(p *Payload) feishu.Document {
	pusher := unknown
	if p.Pusher != nil && p.Pusher.Name != "" {
		pusher = p.Pusher.Name
	}
	entries := make([]string, 0, len(p.Commits))
	for _, c := range p.Commits {
		entries = append(entries, fmt.Sprintf("- %s (%s)", c.Message, c.URL))
	}
	return feishu.Document{
		Title: title(Push),
		Lines: []feishu.Line{
			repoLine(p, unknown),
			{feishu.Text(fmt.Sprintf("%s pushed to %s", pusher, or(p.Ref, unknown)))},
			{feishu.Text(Truncate(strings.Join(entries, "\n")))},
		},
	}
}

func pullRequest(p *Payload) feishu.Document {
	var t, href string
	if p.PullRequest != nil {
		t, href = p.PullRequest.Title, p.PullRequest.HTMLURL
	}
	return feishu.Document{
		Title: title(PullRequest),
		Lines: []feishu.Line{
			repoLine(p, unknown),
			{
				feishu.Text(fmt.Sprintf("%s %s pull request: ", login(p, unknown), or(p.Action, unknown))),
				feishu.Link(or(t, unknown), or(href, placeholderHref)),
			},
		},
	}
}

func generic(eventType string, p *Payload) feishu.Document {
	actor := "Triggered by: " + login(p, unknownUser)
	if p.Action != "" {
		actor += " (" + p.Action + ")"
	}
	return feishu.Document{
		Title: "GitHub " + eventType + " event",
		Lines: []feishu.Line{
			repoLine(p, unknownRepo),
			{feishu.Text(actor)},
			{feishu.Text(Truncate(dump(p.Raw)))},
		},
	}
}

// repoLine links the repository, or renders fallback with a "#" href.
func repoLine(p *Payload, fallback string) feishu.Line {
	name, href := fallback, placeholderHref
	if r := p.Repository; r != nil {
		name = or(r.FullName, fallback)
		href = or(r.HTMLURL, placeholderHref)
	}
	return feishu.Line{feishu.Text("Repository: "), feishu.Link(name, href)}
}

func login(p *Payload, fallback string) string {
	if p.Sender == nil {
		return fallback
	}
	return or(p.Sender.Login, fallback)
}

// dump indents the payload as received. Key order, HTML characters and
// large numbers are left exactly as GitHub sent them.
func dump(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Truncate keeps the first MaxTextLength characters of s and appends
// Ellipsis. The suffix is added even when s is shorter.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) > MaxTextLength {
		r = r[:MaxTextLength]
	}
	return string(r) + Ellipsis
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
