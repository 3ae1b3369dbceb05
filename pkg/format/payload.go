package format

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the subset of a GitHub webhook body the formatters read.
// Raw keeps the original JSON object, byte for byte, for the generic dump.
type Payload struct {
	Repository  *Repository      `json:"repository"`
	Sender      *User            `json:"sender"`
	Issue       *Issue           `json:"issue"`
	Comment     *Comment         `json:"comment"`
	PullRequest *PullRequestInfo `json:"pull_request"`
	Pusher      *Pusher          `json:"pusher"`
	Action      string           `json:"action"`
	Ref         string           `json:"ref"`
	Raw         json.RawMessage  `json:"-"`
	Commits     []Commit         `json:"commits"`
}

// Repository identifies the repository an event belongs to.
type Repository struct {
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// User is a GitHub account.
type User struct {
	Login string `json:"login"`
}

// Issue is an issue (or the issue half of a pull request).
type Issue struct {
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
}

// Comment is an issue comment.
type Comment struct {
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// PullRequestInfo is a pull request.
type PullRequestInfo struct {
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
}

// Pusher is the git identity that pushed.
type Pusher struct {
	Name string `json:"name"`
}

// Commit is one commit of a push.
type Commit struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

// ParsePayload decodes a webhook body. The returned payload is always
// usable: fields whose JSON type does not match are left empty, and a body
// that is not a JSON object yields an empty payload along with the decode
// error, so malformed events still produce a notification.
func ParsePayload(body []byte) (*Payload, error) {
	p := &Payload{}

	// Decode field by field so one mistyped field does not blank the rest.
	var parts map[string]json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return p, fmt.Errorf("failed to decode payload: %w", err)
	}
	if parts == nil {
		// JSON null
		return p, nil
	}
	p.Raw = json.RawMessage(bytes.TrimSpace(body))

	fields := map[string]any{
		"repository":   &p.Repository,
		"sender":       &p.Sender,
		"issue":        &p.Issue,
		"comment":      &p.Comment,
		"pull_request": &p.PullRequest,
		"pusher":       &p.Pusher,
		"action":       &p.Action,
		"ref":          &p.Ref,
		"commits":      &p.Commits,
	}
	for key, dst := range fields {
		if v, ok := parts[key]; ok {
			_ = json.Unmarshal(v, dst) //nolint:errcheck // mistyped fields degrade to unknown
		}
	}
	return p, nil
}
