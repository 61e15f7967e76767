package synth

import (
	"fmt"
	"time"
)

// TitlePrefix marks topics created from seeds.
const TitlePrefix = "[Q&A]"

// Seed is a question and answer pair used to create a new topic.
type Seed struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// Title returns the topic title for the seed.
func (s Seed) Title() string {
	return TitlePrefix + " " + s.Question
}

// Body renders the opening post of the seeded topic.
func (s Seed) Body(now time.Time) string {
	return fmt.Sprintf(`## Question
%s

## Answer
%s

## Discussion
Share your experience or additional tips in the comments below!

---
*Last updated: %s*`, s.Question, s.Answer, now.Format("2006-01-02"))
}
