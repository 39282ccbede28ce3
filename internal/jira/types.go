package jira

import (
	"encoding/json"
	"time"
)

// Ticket is a Jira issue as read by the workflow. It is never mutated
// locally; changes go through AddComment and TransitionTicket.
type Ticket struct {
	Key          string
	Summary      string
	Description  Description
	Status       string
	Type         string
	Priority     string
	Assignee     string
	Reporter     string
	Attachments  []Attachment
	Comments     []Comment
	Labels       []string
	CustomFields map[string]any
	Created      time.Time
}

// Attachment is a file attached to a ticket.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	// Content is the download URL.
	Content string `json:"content"`
}

// Comment is a ticket comment. Body has the same shape as a description.
type Comment struct {
	ID      string
	Author  string
	Body    Description
	Created time.Time
}

// Transition is a workflow transition available from the ticket's current status.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   string `json:"-"`
}

// Description holds either an Atlassian Document Format tree (API v3) or
// plain text (API v2, wiki markup, or Markdown-flavored text).
type Description struct {
	Doc  *Node
	Text string
}

// IsEmpty reports whether there is nothing to render.
func (d Description) IsEmpty() bool {
	return d.Doc == nil && d.Text == ""
}

// UnmarshalJSON accepts null, a JSON string, or an ADF object.
func (d *Description) UnmarshalJSON(data []byte) error {
	*d = Description{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &d.Text)
	}
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}
	d.Doc = &node
	return nil
}

// Node is one element of an Atlassian Document Format tree. Version is
// only set on the root "doc" node.
type Node struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
}

// wire types for the REST API

type searchResponse struct {
	Issues []issueJSON `json:"issues"`
	Total  int         `json:"total"`
}

type issueJSON struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type issueFields struct {
	Summary     string       `json:"summary"`
	Description Description  `json:"description"`
	Status      *namedField  `json:"status"`
	IssueType   *namedField  `json:"issuetype"`
	Priority    *namedField  `json:"priority"`
	Assignee    *userField   `json:"assignee"`
	Reporter    *userField   `json:"reporter"`
	Attachment  []Attachment `json:"attachment"`
	Labels      []string     `json:"labels"`
	Created     string       `json:"created"`
	Comment     *struct {
		Comments []commentJSON `json:"comments"`
	} `json:"comment"`
}

type namedField struct {
	Name string `json:"name"`
}

type userField struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type commentJSON struct {
	ID      string      `json:"id"`
	Author  *userField  `json:"author"`
	Body    Description `json:"body"`
	Created string      `json:"created"`
}

type transitionsResponse struct {
	Transitions []struct {
		ID   string      `json:"id"`
		Name string      `json:"name"`
		To   *namedField `json:"to"`
	} `json:"transitions"`
}

// Jira timestamps look like 2024-03-01T10:15:30.000+0000.
const timeLayout = "2006-01-02T15:04:05.000-0700"

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func (u *userField) name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.EmailAddress
}

func (n *namedField) name() string {
	if n == nil {
		return ""
	}
	return n.Name
}

// knownFields are decoded into Ticket fields; every other field lands in CustomFields.
var knownFields = map[string]bool{
	"summary": true, "description": true, "status": true, "issuetype": true,
	"priority": true, "assignee": true, "reporter": true, "attachment": true,
	"labels": true, "created": true, "comment": true,
}

func (raw issueJSON) toTicket() (*Ticket, error) {
	encoded, err := json.Marshal(raw.Fields)
	if err != nil {
		return nil, err
	}
	var f issueFields
	if err := json.Unmarshal(encoded, &f); err != nil {
		return nil, err
	}

	t := &Ticket{
		Key:         raw.Key,
		Summary:     f.Summary,
		Description: f.Description,
		Status:      f.Status.name(),
		Type:        f.IssueType.name(),
		Priority:    f.Priority.name(),
		Assignee:    f.Assignee.name(),
		Reporter:    f.Reporter.name(),
		Attachments: f.Attachment,
		Labels:      f.Labels,
		Created:     parseTime(f.Created),
	}
	if f.Comment != nil {
		for _, c := range f.Comment.Comments {
			t.Comments = append(t.Comments, Comment{
				ID:      c.ID,
				Author:  c.Author.name(),
				Body:    c.Body,
				Created: parseTime(c.Created),
			})
		}
	}

	for name, value := range raw.Fields {
		if knownFields[name] || string(value) == "null" {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			continue
		}
		if t.CustomFields == nil {
			t.CustomFields = make(map[string]any)
		}
		t.CustomFields[name] = v
	}
	return t, nil
}
