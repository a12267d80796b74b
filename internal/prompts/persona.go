package prompts

// DefaultNodeName is the display name of the conversation node.
const DefaultNodeName = "Context-Aware Self-Thinking AI"

// DefaultTopics are the subjects the agent may pick to contemplate when
// no topic has been set yet.
var DefaultTopics = []string{
	"The nature of consciousness",
	"The future of AI",
	"The meaning of life",
	"The concept of free will",
	"The origins of the universe",
	"The nature of time",
	"The possibility of extraterrestrial life",
	"The ethics of AI development",
	"The relationship between mind and body",
	"The limits of human knowledge",
}

// Topics returns a fresh copy of DefaultTopics.
func Topics() []string {
	out := make([]string, len(DefaultTopics))
	copy(out, DefaultTopics)
	return out
}
