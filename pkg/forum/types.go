package forum

import (
	"errors"
	"time"
)

// DefaultCategory is the category name used when a category id cannot be
// resolved.
const DefaultCategory = "General"

// ContentUnit is a single addressable piece of remote content: a topic or a
// post within a topic. Remote numeric ids are carried as strings.
type ContentUnit struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	CategoryID string    `json:"category_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"text,omitempty"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	Closed     bool      `json:"closed,omitempty"`
	Archived   bool      `json:"archived,omitempty"`
	PostNumber int       `json:"post_number,omitempty"`
	Flags      Flags     `json:"flags"`
}

// Flags are derived properties computed from a unit's text after it is fetched.
type Flags struct {
	HasImage                 bool `json:"has_image"`
	HasUnresolvedPlaceholder bool `json:"has_unresolved_placeholder"`
}

// Validate checks the structural requirements of a unit.
func (u ContentUnit) Validate() error {
	if u.ID == "" {
		return errors.New("content unit id is required")
	}
	return nil
}

// IsTopic reports whether the unit is a top-level topic rather than a post.
func (u ContentUnit) IsTopic() bool {
	return u.ParentID == ""
}

// Page is one page of a paginated list operation.
type Page struct {
	Cursor  int           `json:"cursor"`
	Items   []ContentUnit `json:"items"`
	HasMore bool          `json:"has_more"`
}

// Category is a remote grouping of topics.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Categories maps category ids to names.
type Categories map[string]string

// Name returns the category name for id, or DefaultCategory when unknown.
func (c Categories) Name(id string) string {
	if name, ok := c[id]; ok && name != "" {
		return name
	}
	return DefaultCategory
}

// Resolve fills in Category on each unit from its CategoryID.
func (c Categories) Resolve(units []ContentUnit) {
	for i := range units {
		if units[i].Category == "" {
			units[i].Category = c.Name(units[i].CategoryID)
		}
	}
}

// NewPost describes a post to create. A post with an empty TopicID creates a
// new topic and requires Title.
type NewPost struct {
	TopicID    string
	Title      string
	CategoryID string
	Raw        string
}

// Validate checks that the post can be sent.
func (p NewPost) Validate() error {
	if p.Raw == "" {
		return errors.New("post body is required")
	}
	if p.TopicID == "" && p.Title == "" {
		return errors.New("title is required when creating a topic")
	}
	return nil
}

// Created identifies a post returned by a create call.
type Created struct {
	ID      string `json:"id"`
	TopicID string `json:"topic_id"`
}

// UserSpec describes an identity to create remotely.
type UserSpec struct {
	Handle      string
	DisplayName string
	Email       string
	Password    string
}

// Validate checks that the user spec carries every required field.
func (u UserSpec) Validate() error {
	switch {
	case u.Handle == "":
		return errors.New("handle is required")
	case u.Email == "":
		return errors.New("email is required")
	case u.Password == "":
		return errors.New("password is required")
	}
	return nil
}
