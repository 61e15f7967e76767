package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/murmur/pkg/forum"
	"github.com/stretchr/testify/require"
)

// TestAPIKey is the credential the fake forum accepts.
const TestAPIKey = "test-key"

// FakeTopic is a topic held by the fake forum.
type FakeTopic struct {
	ID         string
	Title      string
	CategoryID string
	CreatedAt  time.Time
	Closed     bool
	Archived   bool
	PostIDs    []string
}

// FakePost is a post held by the fake forum.
type FakePost struct {
	ID         string
	TopicID    string
	PostNumber int
	Raw        string
	Username   string
	EditReason string
	CreatedAt  time.Time
}

// RecordedRequest is one request received by the fake forum.
type RecordedRequest struct {
	Method   string
	Path     string
	Query    string
	Identity string
	Body     []byte
	Status   int
}

// FakeForum is an in-memory forum backend served over httptest. Responses can
// be scripted per endpoint to exercise retry behavior.
type FakeForum struct {
	Server *httptest.Server

	mu         sync.Mutex
	topics     []*FakeTopic
	topicByID  map[string]*FakeTopic
	posts      map[string]*FakePost
	categories map[string]string
	users      map[string]map[string]any
	scripts    map[string][]int
	denied     map[string]bool
	requests   []RecordedRequest
	nextID     int
	now        time.Time
}

// NewFakeForum starts a fake forum that is closed when the test ends.
func NewFakeForum(t *testing.T) *FakeForum {
	t.Helper()

	f := &FakeForum{
		topicByID:  make(map[string]*FakeTopic),
		posts:      make(map[string]*FakePost),
		categories: make(map[string]string),
		users:      make(map[string]map[string]any),
		scripts:    make(map[string][]int),
		denied:     make(map[string]bool),
		nextID:     100,
		now:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake forum.
func (f *FakeForum) URL() string {
	return f.Server.URL
}

// NewClient builds a forum client pointed at the fake with zero backoff
// delays recorded by sleeper.
func (f *FakeForum) NewClient(t *testing.T, sleeper forum.Sleeper) *forum.Client {
	t.Helper()

	client, err := forum.NewClient(forum.Options{
		BaseURL: f.URL(),
		APIKey:  TestAPIKey,
		Policy: forum.BackoffPolicy{
			BaseDelay:      10 * time.Second,
			MaxAttempts:    3,
			TransientDelay: 5 * time.Second,
		},
		Sleeper: sleeper,
	})
	require.NoError(t, err)
	return client
}

// AddCategory registers a category.
func (f *FakeForum) AddCategory(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[id] = name
}

// AddTopic creates a topic whose first post is question and whose following
// posts are replies. It returns the topic id.
func (f *FakeForum) AddTopic(title, categoryID, question string, replies ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	topic := f.createTopicLocked(title, categoryID, "system")
	f.createPostLocked(topic, question, "system")
	for _, r := range replies {
		f.createPostLocked(topic, r, "system")
	}
	return topic.ID
}

// SetClosed marks a topic as closed.
func (f *FakeForum) SetClosed(topicID string, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topicByID[topicID]; ok {
		t.Closed = closed
	}
}

// SetCreatedAt sets a topic's creation time.
func (f *FakeForum) SetCreatedAt(topicID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topicByID[topicID]; ok {
		t.CreatedAt = at
	}
}

// Topic returns a copy of the topic with the given id.
func (f *FakeForum) Topic(id string) (FakeTopic, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topicByID[id]
	if !ok {
		return FakeTopic{}, false
	}
	cp := *t
	cp.PostIDs = append([]string(nil), t.PostIDs...)
	return cp, true
}

// Topics returns copies of all topics in listing order.
func (f *FakeForum) Topics() []FakeTopic {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeTopic, 0, len(f.topics))
	for _, t := range f.topics {
		cp := *t
		cp.PostIDs = append([]string(nil), t.PostIDs...)
		out = append(out, cp)
	}
	return out
}

// Post returns a copy of the post with the given id.
func (f *FakeForum) Post(id string) (FakePost, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return FakePost{}, false
	}
	return *p, true
}

// Posts returns copies of a topic's posts in stream order.
func (f *FakeForum) Posts(topicID string) []FakePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topicByID[topicID]
	if !ok {
		return nil
	}
	out := make([]FakePost, 0, len(t.PostIDs))
	for _, id := range t.PostIDs {
		out = append(out, *f.posts[id])
	}
	return out
}

// Users returns the handles created through the API, sorted.
func (f *FakeForum) Users() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.users))
	for handle := range f.users {
		out = append(out, handle)
	}
	sort.Strings(out)
	return out
}

// Script queues status codes for method+path. Each matching request consumes
// one code; 200 lets the request through to normal handling.
func (f *FakeForum) Script(method, path string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.scripts[key] = append(f.scripts[key], statuses...)
}

// Deny makes every mutating request acting as identity fail with 403.
func (f *FakeForum) Deny(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[identity] = true
}

// Requests returns every request received so far.
func (f *FakeForum) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// CountRequests counts received requests matching method and path prefix.
func (f *FakeForum) CountRequests(method, pathPrefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

func (f *FakeForum) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	identity := r.Header.Get("Api-Username")

	f.mu.Lock()
	defer f.mu.Unlock()

	rec := RecordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Identity: identity, Body: body}
	status := f.route(w, r, body, identity)
	rec.Status = status
	f.requests = append(f.requests, rec)
}

// route dispatches the request and returns the status written.
func (f *FakeForum) route(w http.ResponseWriter, r *http.Request, body []byte, identity string) int {
	if r.Header.Get("Api-Key") != TestAPIKey {
		return writeError(w, http.StatusForbidden, "invalid api key")
	}

	key := r.Method + " " + r.URL.Path
	if queue := f.scripts[key]; len(queue) > 0 {
		status := queue[0]
		f.scripts[key] = queue[1:]
		if status != http.StatusOK {
			return writeError(w, status, "scripted failure")
		}
	}

	if r.Method != http.MethodGet && f.denied[identity] {
		return writeError(w, http.StatusForbidden, "you are not permitted to act as "+identity)
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/latest.json":
		return f.handleLatest(w, r)
	case r.Method == http.MethodGet && path == "/categories.json":
		return f.handleCategories(w)
	case r.Method == http.MethodPost && path == "/posts.json":
		return f.handleCreatePost(w, body, identity)
	case r.Method == http.MethodPost && path == "/users.json":
		return f.handleCreateUser(w, body)
	case r.Method == http.MethodPost && path == "/uploads.json":
		return f.handleUpload(w, r, body)
	case strings.HasPrefix(path, "/t/") && strings.HasSuffix(path, "/change-timestamp") && r.Method == http.MethodPut:
		return f.handleChangeTimestamp(w, r, body, strings.TrimSuffix(strings.TrimPrefix(path, "/t/"), "/change-timestamp"))
	case strings.HasPrefix(path, "/t/") && strings.HasSuffix(path, ".json") && r.Method == http.MethodGet:
		return f.handleTopic(w, strings.TrimSuffix(strings.TrimPrefix(path, "/t/"), ".json"))
	case strings.HasPrefix(path, "/posts/") && strings.HasSuffix(path, ".json"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/posts/"), ".json")
		switch r.Method {
		case http.MethodGet:
			return f.handleGetPost(w, id)
		case http.MethodPut:
			return f.handleUpdatePost(w, id, body)
		}
	}
	return writeError(w, http.StatusNotFound, "not found")
}

func (f *FakeForum) handleLatest(w http.ResponseWriter, r *http.Request) int {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = 30
	}

	start := page * perPage
	topics := make([]map[string]any, 0, perPage)
	for i := start; i < len(f.topics) && i < start+perPage; i++ {
		t := f.topics[i]
		topics = append(topics, map[string]any{
			"id":          json.Number(t.ID),
			"title":       t.Title,
			"category_id": json.Number(t.CategoryID),
			"created_at":  t.CreatedAt,
			"closed":      t.Closed,
			"archived":    t.Archived,
			"posts_count": len(t.PostIDs),
		})
	}
	return writeJSON(w, http.StatusOK, map[string]any{"topic_list": map[string]any{"topics": topics}})
}

func (f *FakeForum) handleCategories(w http.ResponseWriter) int {
	ids := make([]string, 0, len(f.categories))
	for id := range f.categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cats := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		cats = append(cats, map[string]any{"id": json.Number(id), "name": f.categories[id]})
	}
	return writeJSON(w, http.StatusOK, map[string]any{"category_list": map[string]any{"categories": cats}})
}

func (f *FakeForum) handleTopic(w http.ResponseWriter, id string) int {
	t, ok := f.topicByID[id]
	if !ok {
		return writeError(w, http.StatusNotFound, "topic not found")
	}
	posts := make([]map[string]any, 0, len(t.PostIDs))
	for _, pid := range t.PostIDs {
		p := f.posts[pid]
		// Topic views carry rendered HTML only, like the real backend.
		posts = append(posts, map[string]any{
			"id":          json.Number(p.ID),
			"topic_id":    json.Number(p.TopicID),
			"post_number": p.PostNumber,
			"cooked":      cook(p.Raw),
			"username":    p.Username,
			"created_at":  p.CreatedAt,
		})
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"id":          json.Number(t.ID),
		"title":       t.Title,
		"category_id": json.Number(t.CategoryID),
		"closed":      t.Closed,
		"archived":    t.Archived,
		"post_stream": map[string]any{"posts": posts},
	})
}

func (f *FakeForum) handleGetPost(w http.ResponseWriter, id string) int {
	p, ok := f.posts[id]
	if !ok {
		return writeError(w, http.StatusNotFound, "post not found")
	}
	return writeJSON(w, http.StatusOK, postJSON(p))
}

func (f *FakeForum) handleUpdatePost(w http.ResponseWriter, id string, body []byte) int {
	p, ok := f.posts[id]
	if !ok {
		return writeError(w, http.StatusNotFound, "post not found")
	}
	var payload struct {
		Post struct {
			Raw        string `json:"raw"`
			EditReason string `json:"edit_reason"`
		} `json:"post"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Post.Raw == "" {
		return writeError(w, http.StatusUnprocessableEntity, "raw is required")
	}
	p.Raw = payload.Post.Raw
	p.EditReason = payload.Post.EditReason
	return writeJSON(w, http.StatusOK, map[string]any{"post": postJSON(p)})
}

func (f *FakeForum) handleCreatePost(w http.ResponseWriter, body []byte, identity string) int {
	var payload struct {
		TopicID  json.Number `json:"topic_id"`
		Title    string      `json:"title"`
		Category json.Number `json:"category"`
		Raw      string      `json:"raw"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Raw == "" {
		return writeError(w, http.StatusUnprocessableEntity, "raw is required")
	}

	var topic *FakeTopic
	if payload.TopicID != "" {
		t, ok := f.topicByID[payload.TopicID.String()]
		if !ok {
			return writeError(w, http.StatusNotFound, "topic not found")
		}
		topic = t
	} else {
		if payload.Title == "" {
			return writeError(w, http.StatusUnprocessableEntity, "title is required")
		}
		topic = f.createTopicLocked(payload.Title, payload.Category.String(), identity)
	}
	p := f.createPostLocked(topic, payload.Raw, identity)
	return writeJSON(w, http.StatusOK, map[string]any{"id": json.Number(p.ID), "topic_id": json.Number(topic.ID)})
}

func (f *FakeForum) handleCreateUser(w http.ResponseWriter, body []byte) int {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return writeError(w, http.StatusBadRequest, "invalid body")
	}
	handle, _ := payload["username"].(string)
	if handle == "" {
		return writeError(w, http.StatusUnprocessableEntity, "username is required")
	}
	if _, exists := f.users[handle]; exists {
		return writeError(w, http.StatusUnprocessableEntity, "username must be unique")
	}
	f.users[handle] = payload
	return writeJSON(w, http.StatusOK, map[string]any{"success": true, "active": true})
}

func (f *FakeForum) handleChangeTimestamp(w http.ResponseWriter, r *http.Request, body []byte, id string) int {
	t, ok := f.topicByID[id]
	if !ok {
		return writeError(w, http.StatusNotFound, "topic not found")
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	if err := r.ParseForm(); err != nil {
		return writeError(w, http.StatusBadRequest, "invalid form")
	}
	secs, err := strconv.ParseInt(r.PostForm.Get("timestamp"), 10, 64)
	if err != nil {
		return writeError(w, http.StatusUnprocessableEntity, "timestamp is required")
	}
	t.CreatedAt = time.Unix(secs, 0).UTC()
	return writeJSON(w, http.StatusOK, map[string]any{"success": "OK"})
}

func (f *FakeForum) handleUpload(w http.ResponseWriter, r *http.Request, body []byte) int {
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return writeError(w, http.StatusBadRequest, "invalid multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return writeError(w, http.StatusUnprocessableEntity, "file is required")
	}
	file.Close()
	f.nextID++
	return writeJSON(w, http.StatusOK, map[string]any{
		"url":       fmt.Sprintf("/uploads/default/%d/%s", f.nextID, header.Filename),
		"short_url": fmt.Sprintf("upload://%d-%s", f.nextID, header.Filename),
	})
}

func (f *FakeForum) createTopicLocked(title, categoryID, author string) *FakeTopic {
	f.nextID++
	t := &FakeTopic{
		ID:         strconv.Itoa(f.nextID),
		Title:      title,
		CategoryID: categoryID,
		CreatedAt:  f.now.Add(-time.Duration(len(f.topics)) * time.Hour),
	}
	// Newest first, like the latest listing.
	f.topics = append([]*FakeTopic{t}, f.topics...)
	f.topicByID[t.ID] = t
	return t
}

func (f *FakeForum) createPostLocked(t *FakeTopic, raw, author string) *FakePost {
	f.nextID++
	p := &FakePost{
		ID:         strconv.Itoa(f.nextID),
		TopicID:    t.ID,
		PostNumber: len(t.PostIDs) + 1,
		Raw:        raw,
		Username:   author,
		CreatedAt:  t.CreatedAt,
	}
	t.PostIDs = append(t.PostIDs, p.ID)
	f.posts[p.ID] = p
	return p
}

func postJSON(p *FakePost) map[string]any {
	return map[string]any{
		"id":          json.Number(p.ID),
		"topic_id":    json.Number(p.TopicID),
		"post_number": p.PostNumber,
		"raw":         p.Raw,
		"cooked":      cook(p.Raw),
		"username":    p.Username,
		"created_at":  p.CreatedAt,
	}
}

var markdownImage = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*)\)`)

// cook renders the subset of markdown the tests rely on.
func cook(raw string) string {
	html := markdownImage.ReplaceAllString(raw, `<img src="$2" alt="$1">`)
	return "<p>" + html + "</p>"
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	return status
}

func writeError(w http.ResponseWriter, status int, msg string) int {
	return writeJSON(w, status, map[string]any{"errors": []string{msg}})
}
