package agent

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/rockbite/localforge/pkg/llm"
	"github.com/tidwall/gjson"
)

const maxTopicLen = 60

const hintPrompt = `Summarize the user's request for a status line.
Answer with JSON only: {"topic": "<three to six word title>", "gerund": "<one -ing word fitting the work, capitalized>"}`

var gerunds = []string{
	"Thinking", "Pondering", "Working", "Computing", "Considering",
	"Analyzing", "Reasoning", "Processing", "Exploring", "Crafting",
	"Figuring", "Mulling", "Brewing", "Untangling", "Assembling",
}

// hint is the topic and gerund shown while a turn runs.
type hint struct {
	Topic  string
	Gerund string
}

// localHint derives a hint without a model call. The gerund is picked by a
// hash of the text so the same message always shows the same word.
func localHint(text string) hint {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return hint{
		Topic:  topicFromText(text),
		Gerund: gerunds[h.Sum32()%uint32(len(gerunds))],
	}
}

func topicFromText(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if len([]rune(line)) <= maxTopicLen {
		return line
	}
	runes := []rune(line)[:maxTopicLen]
	cut := strings.LastIndexFunc(string(runes), unicode.IsSpace)
	if cut > maxTopicLen/2 {
		return strings.TrimSpace(string(runes)[:cut]) + "..."
	}
	return string(runes) + "..."
}

// modelHint asks a cheap model for a hint, falling back to localHint on
// any failure or unusable answer.
func (r *Runner) modelHint(ctx context.Context, text, driver, model string, creds llm.Credentials) hint {
	fallback := localHint(text)
	if model == "" || driver == "" {
		return fallback
	}

	hctx, cancel := context.WithTimeout(ctx, r.hintTimeout)
	defer cancel()

	resp, err := r.gateway.Chat(hctx, driver, llm.Request{
		Model:           model,
		Messages:        []llm.Message{llm.SystemText(hintPrompt), llm.UserText(text)},
		MaxOutputTokens: 64,
	}, creds)
	if err != nil {
		r.logger.Debug().Err(err).Str("model", model).Msg("Hint model failed")
		return fallback
	}
	return parseHint(resp.Content, fallback)
}

// parseHint reads {"topic","gerund"} from a model answer that may wrap the
// JSON in prose or a code fence.
func parseHint(content string, fallback hint) hint {
	content = strings.TrimSpace(content)
	if !gjson.Valid(content) {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start < 0 || end <= start {
			return fallback
		}
		content = content[start : end+1]
		if !gjson.Valid(content) {
			return fallback
		}
	}

	out := fallback
	if topic := strings.TrimSpace(gjson.Get(content, "topic").String()); topic != "" {
		out.Topic = topicFromText(topic)
	}
	if gerund := strings.TrimSpace(gjson.Get(content, "gerund").String()); isGerund(gerund) {
		out.Gerund = strings.ToUpper(gerund[:1]) + gerund[1:]
	}
	return out
}

func isGerund(word string) bool {
	if len(word) < 4 || len(word) > 24 || !strings.HasSuffix(strings.ToLower(word), "ing") {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
