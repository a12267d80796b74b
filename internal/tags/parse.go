// Package tags extracts tagged segments from free-text model output.
//
// The model is asked to wrap its output in four tag pairs:
//
//	<thought>...</thought>      internal reflection, never shown
//	<say>...</say>              something said to the operator
//	<question>...</question>    something asked of the operator
//	<new_topic>...</new_topic>  a change of contemplation topic
//
// Parsing is forgiving. Anything outside a complete tag pair is ignored,
// so absent, unterminated or stray tags simply produce no segment.
package tags

import "regexp"

// Tag names as they appear between angle brackets.
const (
	TagThought  = "thought"
	TagSay      = "say"
	TagQuestion = "question"
	TagNewTopic = "new_topic"
)

// Each pattern matches the shortest span between an opening and closing
// tag, across newlines. Matching is case-sensitive.
var (
	thoughtRe  = tagPattern(TagThought)
	sayRe      = tagPattern(TagSay)
	questionRe = tagPattern(TagQuestion)
	newTopicRe = tagPattern(TagNewTopic)
)

func tagPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + name + `>(.*?)</` + name + `>`)
}

// Segments holds every tagged span found in one model response, grouped
// by category. Each slice is in order of appearance; relative order
// across categories is not kept. Contents are untrimmed.
type Segments struct {
	Thoughts  []string
	Sayings   []string
	Questions []string
	NewTopics []string
}

// Empty reports whether no segment of any category was found.
func (s Segments) Empty() bool {
	return len(s.Thoughts) == 0 && len(s.Sayings) == 0 &&
		len(s.Questions) == 0 && len(s.NewTopics) == 0
}

// Parse extracts all complete tag pairs from raw. It never fails.
func Parse(raw string) Segments {
	return Segments{
		Thoughts:  extract(thoughtRe, raw),
		Sayings:   extract(sayRe, raw),
		Questions: extract(questionRe, raw),
		NewTopics: extract(newTopicRe, raw),
	}
}

func extract(re *regexp.Regexp, raw string) []string {
	matches := re.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m[1]
	}
	return out
}
