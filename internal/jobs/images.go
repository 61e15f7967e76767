package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/dyluth/murmur/internal/guard"
	"github.com/dyluth/murmur/internal/orchestrator"
	"github.com/dyluth/murmur/internal/sampling"
	"github.com/dyluth/murmur/internal/synth"
	"github.com/dyluth/murmur/pkg/forum"
	"go.uber.org/zap"
)

// imagesJob appends a screenshot embed to answer posts that have none.
type imagesJob struct {
	*base
	fraction float64
	uploads  map[string]string
}

func newImages(b *base, s Settings) orchestrator.Job {
	return &imagesJob{base: b, fraction: s.ImageFraction, uploads: make(map[string]string)}
}

func (j *imagesJob) Enumerate(ctx context.Context) (orchestrator.Enumeration, error) {
	topics, incomplete, err := j.topics(ctx)
	if err != nil && ctx.Err() != nil {
		return enumeration(nil, true), err
	}
	posts, postsIncomplete, perr := j.posts(ctx, topics, true)
	if perr != nil {
		err = perr
	}
	return enumeration(posts, incomplete || postsIncomplete), err
}

func (j *imagesJob) Policy() sampling.Policy { return sampling.Fraction(j.fraction) }

func (j *imagesJob) Guard() *guard.Guard {
	return guard.New(guard.AlreadySeen(guard.ByID), guard.HasImage())
}

// Apply re-reads the raw post, since listings only carry rendered HTML, and
// appends one image embed.
func (j *imagesJob) Apply(ctx context.Context, item forum.ContentUnit, rng *rand.Rand) error {
	post, err := j.deps.Client.GetPost(ctx, item.ID)
	if err != nil {
		return err
	}
	if guard.ContainsImage(post.Text) {
		return orchestrator.ErrNoChange
	}

	category := j.deps.Synth.CategoryFor(item)
	source, ok := j.deps.Synth.PickImage(category, rng)
	if !ok {
		return fmt.Errorf("no image configured for category %q", category)
	}
	url, err := j.imageURL(ctx, source)
	if err != nil {
		return err
	}

	return j.deps.Client.UpdatePost(ctx, item.ID, synth.AppendImage(post.Text, url), "")
}

// imageURL returns a remote image as is and uploads a local file once per run.
func (j *imagesJob) imageURL(ctx context.Context, source string) (string, error) {
	if synth.IsRemote(source) {
		return source, nil
	}
	if url, ok := j.uploads[source]; ok {
		return url, nil
	}

	content, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", source, err)
	}
	url, err := j.deps.Client.Upload(ctx, filepath.Base(source), content)
	if err != nil {
		return "", err
	}
	j.uploads[source] = url
	j.log.Info("uploaded image", zap.String("source", source), zap.String("url", url))
	return url, nil
}
