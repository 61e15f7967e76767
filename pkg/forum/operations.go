package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"
	"time"
)

// ListTopics fetches one page of the latest topics. page is 0-based.
func (c *Client) ListTopics(ctx context.Context, page, perPage int) (Page, error) {
	req := Request{
		Op:   OpList,
		Path: "/latest.json",
		Query: url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(perPage)},
		},
	}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return Page{Cursor: page}, err
	}

	var payload topicListResponse
	if err := resp.Decode(&payload); err != nil {
		return Page{Cursor: page}, malformed(req, err)
	}

	items := make([]ContentUnit, 0, len(payload.TopicList.Topics))
	for _, t := range payload.TopicList.Topics {
		unit := t.unit()
		if err := unit.Validate(); err != nil {
			return Page{Cursor: page}, malformed(req, err)
		}
		items = append(items, unit)
	}

	return Page{Cursor: page, Items: items, HasMore: perPage > 0 && len(items) >= perPage}, nil
}

// TopicPosts fetches a topic and returns its posts in stream order. Each post
// carries the topic's title, category and closed/archived state.
func (c *Client) TopicPosts(ctx context.Context, topicID string) ([]ContentUnit, error) {
	req := Request{Op: OpGet, Path: "/t/" + url.PathEscape(topicID) + ".json"}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	var payload topicResponse
	if err := resp.Decode(&payload); err != nil {
		return nil, malformed(req, err)
	}

	posts := make([]ContentUnit, 0, len(payload.PostStream.Posts))
	for _, p := range payload.PostStream.Posts {
		unit := p.unit()
		if unit.ParentID == "" {
			unit.ParentID = topicID
		}
		unit.Title = payload.Title
		unit.CategoryID = payload.CategoryID.String()
		unit.Closed = payload.Closed
		unit.Archived = payload.Archived
		if err := unit.Validate(); err != nil {
			return nil, malformed(req, err)
		}
		posts = append(posts, unit)
	}
	return posts, nil
}

// GetPost fetches a single post with its full raw text.
func (c *Client) GetPost(ctx context.Context, postID string) (ContentUnit, error) {
	req := Request{Op: OpGet, Path: "/posts/" + url.PathEscape(postID) + ".json"}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return ContentUnit{}, err
	}

	var payload wirePost
	if err := resp.Decode(&payload); err != nil {
		return ContentUnit{}, malformed(req, err)
	}
	unit := payload.unit()
	if err := unit.Validate(); err != nil {
		return ContentUnit{}, malformed(req, err)
	}
	return unit, nil
}

// CreatePost creates a reply, or a new topic when p.TopicID is empty.
// actingAs overrides the client identity when non-empty.
func (c *Client) CreatePost(ctx context.Context, p NewPost, actingAs string) (Created, error) {
	if err := p.Validate(); err != nil {
		return Created{}, fmt.Errorf("invalid post: %w", err)
	}

	payload := map[string]any{"raw": p.Raw}
	if p.TopicID != "" {
		payload["topic_id"] = numericOrString(p.TopicID)
	} else {
		payload["title"] = p.Title
		if p.CategoryID != "" {
			payload["category"] = numericOrString(p.CategoryID)
		}
	}

	req := Request{Op: OpCreate, Path: "/posts.json", JSON: payload, ActingAs: actingAs}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return Created{}, err
	}

	var created wirePost
	if len(resp.Body) == 0 {
		return Created{}, nil
	}
	if err := resp.Decode(&created); err != nil {
		return Created{}, malformed(req, err)
	}
	return Created{ID: created.ID.String(), TopicID: created.TopicID.String()}, nil
}

// UpdatePost replaces the raw text of a post.
func (c *Client) UpdatePost(ctx context.Context, postID, raw, editReason string) error {
	post := map[string]string{"raw": raw}
	if editReason != "" {
		post["edit_reason"] = editReason
	}
	_, err := c.Execute(ctx, Request{
		Op:   OpUpdate,
		Path: "/posts/" + url.PathEscape(postID) + ".json",
		JSON: map[string]any{"post": post},
	})
	return err
}

// ListCategories fetches the category id to name mapping.
func (c *Client) ListCategories(ctx context.Context) (Categories, error) {
	req := Request{Op: OpList, Path: "/categories.json"}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	var payload categoryListResponse
	if err := resp.Decode(&payload); err != nil {
		return nil, malformed(req, err)
	}

	cats := make(Categories, len(payload.CategoryList.Categories))
	for _, cat := range payload.CategoryList.Categories {
		cats[cat.ID.String()] = cat.Name
	}
	return cats, nil
}

// CreateUser provisions a new identity on the forum.
func (c *Client) CreateUser(ctx context.Context, u UserSpec) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	_, err := c.Execute(ctx, Request{
		Op:   OpCreate,
		Path: "/users.json",
		JSON: map[string]any{
			"name":     u.DisplayName,
			"email":    u.Email,
			"password": u.Password,
			"username": u.Handle,
			"active":   true,
			"approved": true,
		},
	})
	return err
}

// ChangeTimestamp moves a topic's creation time.
func (c *Client) ChangeTimestamp(ctx context.Context, topicID string, at time.Time) error {
	_, err := c.Execute(ctx, Request{
		Op:   OpUpdate,
		Path: "/t/" + url.PathEscape(topicID) + "/change-timestamp",
		Form: url.Values{"timestamp": {strconv.FormatInt(at.Unix(), 10)}},
	})
	return err
}

// Upload stores a file on the forum and returns the URL to embed.
func (c *Client) Upload(ctx context.Context, filename string, content []byte) (string, error) {
	build := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(content); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("type", "composer"); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("synchronous", "true"); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}

	req := Request{Op: OpCreate, Path: "/uploads.json", Multipart: build}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return "", err
	}

	var payload struct {
		URL      string `json:"url"`
		ShortURL string `json:"short_url"`
	}
	if err := resp.Decode(&payload); err != nil {
		return "", malformed(req, err)
	}
	if payload.URL != "" {
		return payload.URL, nil
	}
	if payload.ShortURL != "" {
		return payload.ShortURL, nil
	}
	return "", malformed(req, fmt.Errorf("upload response carries no url"))
}

// SetViews always fails with KindUnsupported: the forum API exposes no way to
// set a topic's view count.
func (c *Client) SetViews(_ context.Context, topicID string, _ int) error {
	return &Failure{Kind: KindUnsupported, Op: OpUpdate, Target: "/t/" + topicID + "/views", Err: ErrUnsupported}
}

func malformed(req Request, err error) error {
	return &Failure{Kind: KindMalformed, Op: req.Op, Target: req.Path, Attempts: 1, Err: err}
}

// numericOrString sends ids as JSON numbers when they parse as integers.
func numericOrString(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

type topicListResponse struct {
	TopicList struct {
		Topics []wireTopic `json:"topics"`
	} `json:"topic_list"`
}

type wireTopic struct {
	ID         json.Number `json:"id"`
	Title      string      `json:"title"`
	CategoryID json.Number `json:"category_id"`
	CreatedAt  time.Time   `json:"created_at"`
	Closed     bool        `json:"closed"`
	Archived   bool        `json:"archived"`
}

func (t wireTopic) unit() ContentUnit {
	return ContentUnit{
		ID:         t.ID.String(),
		Title:      t.Title,
		CategoryID: t.CategoryID.String(),
		CreatedAt:  t.CreatedAt,
		Closed:     t.Closed,
		Archived:   t.Archived,
	}
}

type topicResponse struct {
	ID         json.Number `json:"id"`
	Title      string      `json:"title"`
	CategoryID json.Number `json:"category_id"`
	Closed     bool        `json:"closed"`
	Archived   bool        `json:"archived"`
	PostStream struct {
		Posts []wirePost `json:"posts"`
	} `json:"post_stream"`
}

type wirePost struct {
	ID         json.Number `json:"id"`
	TopicID    json.Number `json:"topic_id"`
	PostNumber int         `json:"post_number"`
	Raw        string      `json:"raw"`
	Cooked     string      `json:"cooked"`
	Username   string      `json:"username"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (p wirePost) unit() ContentUnit {
	text := p.Raw
	if text == "" {
		text = p.Cooked
	}
	return ContentUnit{
		ID:         p.ID.String(),
		ParentID:   p.TopicID.String(),
		Text:       text,
		Author:     p.Username,
		CreatedAt:  p.CreatedAt,
		PostNumber: p.PostNumber,
	}
}

type categoryListResponse struct {
	CategoryList struct {
		Categories []struct {
			ID   json.Number `json:"id"`
			Name string      `json:"name"`
		} `json:"categories"`
	} `json:"category_list"`
}
