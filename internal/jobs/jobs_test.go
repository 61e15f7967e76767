package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/murmur/internal/filter"
	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/pagination"
	"github.com/dyluth/murmur/internal/registry"
	"github.com/dyluth/murmur/internal/synth"
	"github.com/dyluth/murmur/internal/testutil"
	"github.com/dyluth/murmur/pkg/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forumNow matches the fake forum's clock.
var forumNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	forum   *testutil.FakeForum
	sleeper *testutil.RecordingSleeper
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ff := testutil.NewFakeForum(t)
	ff.AddCategory("1", "Google Ads Fundamentals")
	ff.AddCategory("2", "Google Ads Scripts")
	ff.AddCategory("3", "Email Marketing")

	sleeper := &testutil.RecordingSleeper{}
	s, err := synth.New(mustBanks(t))
	require.NoError(t, err)

	return &harness{
		forum:   ff,
		sleeper: sleeper,
		deps: Deps{
			Client:     ff.NewClient(t, sleeper),
			Synth:      s,
			Filter:     filter.Criteria{TitlePrefix: synth.TitlePrefix},
			Pagination: pagination.Options{PageSize: 25},
			Sleeper:    sleeper,
			Now:        func() time.Time { return forumNow },
		},
	}
}

func mustBanks(t *testing.T) *synth.Banks {
	t.Helper()
	b, err := synth.DefaultBanks()
	require.NoError(t, err)
	return b
}

func (h *harness) withPool(handles ...string) {
	records := make([]registry.Record, len(handles))
	for i, handle := range handles {
		records[i] = registry.Record{Handle: handle}
	}
	h.deps.Pool = registry.NewPool(records, "", nil)
}

func (h *harness) run(t *testing.T, name string, settings Settings) *orchestrator.Report {
	t.Helper()
	job, err := New(name, h.deps, settings)
	require.NoError(t, err)

	engine := orchestrator.NewEngine(orchestrator.Options{
		Sleeper: h.sleeper,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	})
	report, err := engine.Run(context.Background(), job)
	require.NoError(t, err)
	return report
}

func TestNew(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, []string{"boost", "images", "populate", "repair", "replies", "shuffle-dates", "views"}, Names())

	_, err := New("nope", h.deps, DefaultSettings())
	assert.ErrorContains(t, err, "unknown job")

	_, err = New(NameImages, Deps{}, DefaultSettings())
	assert.ErrorContains(t, err, "forum client is required")

	_, err = New(NameImages, h.deps, Settings{ImageFraction: 2})
	assert.ErrorContains(t, err, "image fraction")

	for _, name := range Names() {
		job, err := New(name, h.deps, Settings{})
		require.NoError(t, err, name)
		assert.Equal(t, name, job.Name())
		assert.NoError(t, job.Policy().Validate(), name)
	}
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())
	assert.NoError(t, Settings{}.Validate(), "zero values take defaults")
	assert.Error(t, Settings{ReplyFraction: -0.5}.Validate())
	assert.Error(t, Settings{MinReplies: 3, MaxReplies: 2}.Validate())
	assert.Error(t, Settings{Window: time.Hour}.Validate())
	assert.Error(t, Settings{PerCategory: -1}.Validate())
	assert.Error(t, Settings{ReplyPause: -time.Second}.Validate())
}

func TestImages_HalfOfFortyAnswers(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 40; i++ {
		h.forum.AddTopic(fmt.Sprintf("[Q&A] Question %d", i), "1", "question body", fmt.Sprintf("Answer number %d", i))
	}
	h.forum.AddTopic("Welcome to the forum", "1", "hello", "not a Q&A answer")

	report := h.run(t, NameImages, DefaultSettings())

	assert.Equal(t, 40, report.Candidates)
	assert.Equal(t, 20, report.Selected)
	assert.Equal(t, 20, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	updated := 0
	for _, topic := range h.forum.Topics() {
		for _, post := range h.forum.Posts(topic.ID) {
			if post.PostNumber == 1 || !strings.HasPrefix(topic.Title, "[Q&A]") {
				assert.NotContains(t, post.Raw, synth.ImageMarker)
				continue
			}
			if strings.Contains(post.Raw, synth.ImageMarker) {
				updated++
				assert.True(t, strings.HasPrefix(post.Raw, "Answer number "), "original text is a prefix")
				assert.Equal(t, 1, strings.Count(post.Raw, "!["+synth.ImageMarker+"]("))
			}
		}
	}
	assert.Equal(t, 20, updated)
}

func TestImages_RerunNeverDoublesImages(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 6; i++ {
		h.forum.AddTopic(fmt.Sprintf("[Q&A] Question %d", i), "2", "q", fmt.Sprintf("Answer %d", i))
	}

	first := h.run(t, NameImages, Settings{ImageFraction: 1})
	assert.Equal(t, 6, first.Succeeded)

	second := h.run(t, NameImages, Settings{ImageFraction: 1})
	assert.Equal(t, 0, second.Succeeded)
	assert.Equal(t, 6, second.SkipsByReason[guard.ReasonHasImage])

	for _, topic := range h.forum.Topics() {
		for _, post := range h.forum.Posts(topic.ID) {
			assert.LessOrEqual(t, strings.Count(post.Raw, synth.ImageMarker), 1)
		}
	}
}

func TestImages_UploadsLocalFileOnce(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "screenshot.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake"), 0644))

	banks := mustBanks(t)
	banks.Images = synth.ImageSet{Default: []string{path}}
	s, err := synth.New(banks)
	require.NoError(t, err)
	h.deps.Synth = s

	for i := 0; i < 3; i++ {
		h.forum.AddTopic(fmt.Sprintf("[Q&A] Q %d", i), "3", "q", "an answer")
	}

	report := h.run(t, NameImages, Settings{ImageFraction: 1})
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, h.forum.CountRequests("POST", "/uploads.json"))

	for _, topic := range h.forum.Topics() {
		assert.Contains(t, h.forum.Posts(topic.ID)[1].Raw, "/uploads/default/")
	}
}

func TestRepair(t *testing.T) {
	h := newHarness(t)
	broken := "Great question! {detail}. Helped my {metric}."
	topicID := h.forum.AddTopic("[Q&A] Broken replies", "1", "question {{timeframe}}", broken, "A clean reply")

	report := h.run(t, NameRepair, DefaultSettings())

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.SkipsByReason[guard.ReasonNoPlaceholders])

	posts := h.forum.Posts(topicID)
	require.Len(t, posts, 3)
	assert.NotContains(t, posts[0].Raw, "{")
	assert.NotContains(t, posts[1].Raw, "{detail}")
	assert.NotContains(t, posts[1].Raw, "{metric}")
	assert.Greater(t, len(posts[1].Raw), len(broken))
	assert.Equal(t, "Fixing placeholder text", posts[1].EditReason)
	assert.Equal(t, "A clean reply", posts[2].Raw)
	assert.Empty(t, posts[2].EditReason)

	rerun := h.run(t, NameRepair, DefaultSettings())
	assert.Equal(t, 0, rerun.Attempted)
}

func TestReplies(t *testing.T) {
	h := newHarness(t)
	h.withPool("alice", "bob", "carol")

	open1 := h.forum.AddTopic("[Q&A] Open one", "1", "q")
	open2 := h.forum.AddTopic("[Q&A] How do I write a script?", "2", "q")
	closed := h.forum.AddTopic("[Q&A] Closed", "1", "q")
	h.forum.SetClosed(closed, true)

	report := h.run(t, NameReplies, DefaultSettings())
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.SkipsByReason[guard.ReasonClosed])
	assert.False(t, report.IdentityDegraded)

	for _, id := range []string{open1, open2} {
		posts := h.forum.Posts(id)
		replies := posts[1:]
		assert.GreaterOrEqual(t, len(replies), 1)
		assert.LessOrEqual(t, len(replies), 2)

		authors := map[string]bool{}
		for _, p := range replies {
			assert.Contains(t, []string{"alice", "bob", "carol"}, p.Username)
			assert.False(t, authors[p.Username], "replies come from distinct identities")
			authors[p.Username] = true
			assert.NotContains(t, p.Raw, "{")
		}
	}
	assert.Len(t, h.forum.Posts(closed), 1)
}

func TestReplies_DegradesToDefaultIdentity(t *testing.T) {
	h := newHarness(t)
	h.withPool("alice", "bob")
	h.forum.Deny("alice")
	h.forum.Deny("bob")

	topicID := h.forum.AddTopic("[Q&A] Topic", "1", "q")
	report := h.run(t, NameReplies, Settings{MinReplies: 2, MaxReplies: 2})

	assert.Equal(t, 1, report.Succeeded)
	assert.True(t, report.IdentityDegraded)
	for _, p := range h.forum.Posts(topicID)[1:] {
		assert.Equal(t, forum.DefaultIdentity, p.Username)
	}
}

func TestBoost_PerCategoryQuota(t *testing.T) {
	h := newHarness(t)
	for _, cat := range []string{"1", "2", "3"} {
		for i := 0; i < 6; i++ {
			h.forum.AddTopic(fmt.Sprintf("[Q&A] %s-%d", cat, i), cat, "q")
		}
	}

	report := h.run(t, NameBoost, DefaultSettings())
	assert.Equal(t, 18, report.Candidates)
	assert.Equal(t, 12, report.Selected)
	assert.Equal(t, 12, report.Succeeded)

	boost := mustBanks(t).Boost
	boosted := map[string]int{}
	for _, topic := range h.forum.Topics() {
		posts := h.forum.Posts(topic.ID)
		if len(posts) > 1 {
			boosted[topic.CategoryID]++
			for _, p := range posts[1:] {
				assert.Contains(t, boost, p.Raw)
			}
		}
	}
	assert.Equal(t, map[string]int{"1": 4, "2": 4, "3": 4}, boosted)
}

func TestPopulate(t *testing.T) {
	h := newHarness(t)
	h.forum.AddCategory("4", "Google Ads Automation")
	h.forum.AddCategory("5", "N8N Automation & Integration")
	h.forum.AddCategory("6", "Data Scraping & Collection")
	h.forum.AddCategory("7", "Proxies & Infrastructure")
	h.forum.AddCategory("8", "Virtual Machines & Browser Profiles")

	h.forum.AddTopic("[Q&A] What is Google Ads and how does it work?", "1", "existing")
	h.forum.AddTopic("[Q&A] A different email question", "3", "existing")

	report := h.run(t, NamePopulate, DefaultSettings())

	assert.Equal(t, 14, report.Candidates)
	assert.Equal(t, 12, report.Succeeded)
	assert.Equal(t, 1, report.SkipsByReason[guard.ReasonAlreadySeen])
	assert.Equal(t, 1, report.SkipsByReason[guard.ReasonQuotaMet])

	titles := map[string]int{}
	for _, topic := range h.forum.Topics() {
		titles[topic.Title]++
		if topic.Title == "[Q&A] How do I debug scripts?" {
			assert.Equal(t, "2", topic.CategoryID)
			posts := h.forum.Posts(topic.ID)
			assert.Contains(t, posts[0].Raw, "## Answer")
			assert.GreaterOrEqual(t, len(posts), 3, "two or three replies follow the question")
			assert.LessOrEqual(t, len(posts), 4)
		}
	}
	for title, n := range titles {
		assert.Equal(t, 1, n, "duplicate topic %q", title)
	}
	assert.NotContains(t, titles, "[Q&A] How do I improve email deliverability?")

	rerun := h.run(t, NamePopulate, DefaultSettings())
	assert.Equal(t, 0, rerun.Attempted, "a second run creates nothing")
}

func TestShuffleDates(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, h.forum.AddTopic(fmt.Sprintf("[Q&A] %d", i), "1", "q"))
	}
	h.forum.SetCreatedAt(ids[0], forumNow.AddDate(0, 0, -10))

	report := h.run(t, NameShuffleDates, DefaultSettings())
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.SkipsByReason[guard.ReasonInWindow])

	from, to := forumNow.AddDate(0, 0, -30), forumNow.Add(-24*time.Hour)
	for _, id := range ids {
		topic, ok := h.forum.Topic(id)
		require.True(t, ok)
		assert.False(t, topic.CreatedAt.Before(from), "topic %s at %s", id, topic.CreatedAt)
		assert.False(t, topic.CreatedAt.After(to), "topic %s at %s", id, topic.CreatedAt)
	}

	rerun := h.run(t, NameShuffleDates, DefaultSettings())
	assert.Equal(t, 0, rerun.Attempted)
}

func TestViews_AlwaysUnsupported(t *testing.T) {
	h := newHarness(t)
	h.forum.AddTopic("[Q&A] one", "1", "q")
	h.forum.AddTopic("[Q&A] two", "1", "q")

	report := h.run(t, NameViews, DefaultSettings())
	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 2, report.FailuresByKind[forum.KindUnsupported])
	assert.Equal(t, 0, h.forum.CountRequests("PUT", "/"))
}

func TestEnumeration_TopicFailureMarksIncomplete(t *testing.T) {
	h := newHarness(t)
	first := h.forum.AddTopic("[Q&A] first", "1", "q", "Answer")
	h.forum.AddTopic("[Q&A] second", "1", "q", "Answer")
	h.forum.Script("GET", "/t/"+first+".json", 404)

	report := h.run(t, NameImages, Settings{ImageFraction: 1})
	assert.True(t, report.PossiblyIncomplete)
	assert.Equal(t, 1, report.Succeeded)
}

func TestEnumeration_CategoriesUnavailable(t *testing.T) {
	h := newHarness(t)
	h.forum.Script("GET", "/categories.json", 404)
	h.forum.AddTopic("[Q&A] How do I debug my script?", "2", "q", "Answer")

	report := h.run(t, NameImages, Settings{ImageFraction: 1})
	assert.Equal(t, 1, report.Succeeded, "unknown categories fall back to the classifier")
}

func TestProvisionIdentities(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "identities.json")
	reg := registry.New()

	h.forum.Script("POST", "/users.json", 422)

	result, err := ProvisionIdentities(context.Background(), h.deps, reg, ProvisionOptions{
		Count:        5,
		Names:        mustBanks(t).Identities,
		RegistryPath: path,
		Delay:        time.Second,
	}, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)

	assert.Equal(t, 5, result.Requested)
	assert.Len(t, result.Created, 4)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.FailuresByKind[forum.KindOther])
	assert.Len(t, h.forum.Users(), 4)

	saved, err := registry.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, saved.Len())
	for _, rec := range result.Created {
		assert.True(t, saved.Has(rec.Handle))
	}
}

func TestProvisionIdentities_DryRun(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "identities.json")

	result, err := ProvisionIdentities(context.Background(), h.deps, registry.New(), ProvisionOptions{
		Count:        3,
		Names:        mustBanks(t).Identities,
		RegistryPath: path,
		DryRun:       true,
	}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Requested)
	assert.Empty(t, result.Created)
	assert.Empty(t, h.forum.Users())
	assert.NoFileExists(t, path)
}

func TestProvisionIdentities_CancelledStillSaves(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "identities.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h.deps.Sleeper = forum.SleeperFunc(func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	})

	result, err := ProvisionIdentities(ctx, h.deps, registry.New(), ProvisionOptions{
		Count:        5,
		Names:        mustBanks(t).Identities,
		RegistryPath: path,
	}, rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Cancelled)
	assert.Len(t, result.Created, 2)

	saved, err := registry.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Len())
}
