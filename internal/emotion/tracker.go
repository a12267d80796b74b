// Package emotion tracks a small set of bounded emotional intensities
// that drift with the lexical sentiment of the agent's own thoughts.
package emotion

import (
	"fmt"
	"strings"
)

// Emotion names, in declaration order. Order matters: it breaks ties in
// [Tracker.Dominant].
const (
	Happy   = "happy"
	Sad     = "sad"
	Excited = "excited"
	Angry   = "angry"
)

// step scales sentiment into an intensity delta.
const step = 0.1

var (
	positiveWords = map[string]bool{
		"happy": true, "joy": true, "excited": true, "wonderful": true, "great": true,
	}
	negativeWords = map[string]bool{
		"sad": true, "angry": true, "frustrated": true, "disappointed": true, "upset": true,
	}
)

// polarity decides which way sentiment pushes an emotion.
type polarity int

const (
	rising  polarity = 1  // positive sentiment raises intensity
	falling polarity = -1 // positive sentiment lowers intensity
)

type state struct {
	name      string
	polarity  polarity
	intensity float64
}

// Level is one emotion's intensity at a point in time.
type Level struct {
	Name      string  `json:"name"`
	Intensity float64 `json:"intensity"`
}

// Tracker holds the intensity of every registered emotion. All values
// start at 0 and stay within [0, 1]. A Tracker is not safe for
// concurrent use; the agent loop owns it exclusively.
type Tracker struct {
	states []*state
	index  map[string]*state
}

// NewTracker returns a tracker with happy, sad, excited and angry
// registered, all at zero intensity.
func NewTracker() *Tracker {
	t := &Tracker{index: make(map[string]*state)}
	for _, s := range []*state{
		{name: Happy, polarity: rising},
		{name: Sad, polarity: falling},
		{name: Excited, polarity: rising},
		{name: Angry, polarity: falling},
	} {
		t.states = append(t.states, s)
		t.index[s.name] = s
	}
	return t
}

// Sentiment scores text as (positive hits - negative hits) / token count.
// Tokens are the lower-cased whitespace-separated words, matched
// exactly. The boolean is false when text has no tokens, in which case
// no score exists.
func Sentiment(text string) (float64, bool) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0, false
	}
	var hits int
	for _, w := range words {
		switch {
		case positiveWords[w]:
			hits++
		case negativeWords[w]:
			hits--
		}
	}
	return float64(hits) / float64(len(words)), true
}

// Update moves the named emotion according to the sentiment of thought
// and returns its new intensity. Empty or whitespace-only thoughts
// leave the intensity unchanged. Unknown names are ignored and report 0.
func (t *Tracker) Update(name, thought string) float64 {
	s, ok := t.index[name]
	if !ok {
		return 0
	}
	sentiment, ok := Sentiment(thought)
	if !ok {
		return s.intensity
	}
	s.intensity = clamp(s.intensity + float64(s.polarity)*sentiment*step)
	return s.intensity
}

// UpdateAll applies thought to every registered emotion, whether or not
// the thought concerns it.
func (t *Tracker) UpdateAll(thought string) {
	for _, s := range t.states {
		t.Update(s.name, thought)
	}
}

// Intensity returns the current intensity of name, or 0 if unknown.
func (t *Tracker) Intensity(name string) float64 {
	if s, ok := t.index[name]; ok {
		return s.intensity
	}
	return 0
}

// Dominant returns the emotion with the highest intensity. Ties go to
// the emotion declared first.
func (t *Tracker) Dominant() (string, float64) {
	best := t.states[0]
	for _, s := range t.states[1:] {
		if s.intensity > best.intensity {
			best = s
		}
	}
	return best.name, best.intensity
}

// Summary renders the dominant emotion, e.g. "Happy (intensity: 0.25)".
func (t *Tracker) Summary() string {
	name, intensity := t.Dominant()
	return fmt.Sprintf("%s (intensity: %.2f)", capitalize(name), intensity)
}

// Snapshot returns every emotion's intensity in declaration order.
func (t *Tracker) Snapshot() []Level {
	out := make([]Level, len(t.states))
	for i, s := range t.states {
		out[i] = Level{Name: s.name, Intensity: s.intensity}
	}
	return out
}

func clamp(v float64) float64 {
	return min(1.0, max(0.0, v))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
