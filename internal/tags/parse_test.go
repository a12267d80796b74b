package tags

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Segments
	}{
		{
			name: "single say",
			raw:  "<say>Hello</say>",
			want: Segments{Sayings: []string{"Hello"}},
		},
		{
			name: "thoughts keep order",
			raw:  "<thought>A</thought><thought>B</thought>",
			want: Segments{Thoughts: []string{"A", "B"}},
		},
		{
			name: "no tags",
			raw:  "no tags here",
			want: Segments{},
		},
		{
			name: "empty input",
			raw:  "",
			want: Segments{},
		},
		{
			name: "all four categories",
			raw: "<thought>pondering</thought> text <say>hi</say>\n" +
				"<question>why?</question><new_topic>Time</new_topic>",
			want: Segments{
				Thoughts:  []string{"pondering"},
				Sayings:   []string{"hi"},
				Questions: []string{"why?"},
				NewTopics: []string{"Time"},
			},
		},
		{
			name: "multi-line content",
			raw:  "<thought>line one\nline two</thought>",
			want: Segments{Thoughts: []string{"line one\nline two"}},
		},
		{
			name: "content is not trimmed",
			raw:  "<say>  padded \n</say>",
			want: Segments{Sayings: []string{"  padded \n"}},
		},
		{
			name: "unterminated tag dropped",
			raw:  "<say>never closed",
			want: Segments{},
		},
		{
			name: "stray closing tag dropped",
			raw:  "orphan</question>",
			want: Segments{},
		},
		{
			name: "unterminated tag does not swallow later categories",
			raw:  "<thought>open <say>spoken</say>",
			want: Segments{Sayings: []string{"spoken"}},
		},
		{
			name: "case sensitive",
			raw:  "<Say>shout</Say><SAY>louder</SAY>",
			want: Segments{},
		},
		{
			name: "shortest match",
			raw:  "<say>one</say> and <say>two</say>",
			want: Segments{Sayings: []string{"one", "two"}},
		},
		{
			name: "empty tag content",
			raw:  "<question></question>",
			want: Segments{Questions: []string{""}},
		},
		{
			name: "categories interleaved",
			raw:  "<say>1</say><thought>a</thought><say>2</say><thought>b</thought>",
			want: Segments{Thoughts: []string{"a", "b"}, Sayings: []string{"1", "2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			check(t, "Thoughts", got.Thoughts, tt.want.Thoughts)
			check(t, "Sayings", got.Sayings, tt.want.Sayings)
			check(t, "Questions", got.Questions, tt.want.Questions)
			check(t, "NewTopics", got.NewTopics, tt.want.NewTopics)
		})
	}
}

func check(t *testing.T, field string, got, want []string) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !slices.Equal(got, want) {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func TestSegments_Empty(t *testing.T) {
	if !Parse("nothing").Empty() {
		t.Error("Parse(untagged).Empty() = false, want true")
	}
	if Parse("<new_topic>x</new_topic>").Empty() {
		t.Error("Parse(tagged).Empty() = true, want false")
	}
}
