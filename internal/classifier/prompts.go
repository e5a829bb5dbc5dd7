package classifier

import (
	"strings"

	"github.com/xaenox/guildscribe/internal/models"
)

const commonInstructions = `Answer with a single JSON object that matches the provided schema.
- title: a short descriptive title
- extremely_short_summary: one sentence
- short_summary: one paragraph
- highlights: the most useful facts, answers and decisions
- detailed_summary: a thorough summary covering every topic discussed
- topic_areas: taxonomy entries from broad to narrow (name, category, subject, topic, subtopic, niche) with a description
- tags: hashtags such as #deployment or #error-handling`

var basePrompts = map[models.Kind]string{
	models.KindThread: `You summarise one conversation thread of a community chat server.
Focus on the question asked, the answers given and whether the problem was solved.`,
	models.KindUser: `You write a profile of one member of a community chat server from the messages they posted.
Describe their interests, expertise and the kind of help they ask for or give.`,
	models.KindChannel: `You summarise one channel of a community chat server from the summaries of its threads and its own messages.
Describe what the channel is used for and the recurring topics.`,
	models.KindCategory: `You summarise one category of a community chat server from the summaries of its channels.`,
	models.KindServer: `You summarise a whole community chat server from the summaries of its categories and channels.
Describe the community, its purpose and its most active topics.`,
	models.KindTag: `You summarise everything a community chat server discussed under one tag, given the summaries of the tagged threads.`,
}

const chunkedNotice = `The text is too long for one request and is sent in chunks.
Each request after the first includes your analysis of the previous chunks.
Update that analysis with the new chunk and keep every important fact from earlier chunks.`

const scopeHeader = "Instructions from the community for this scope:\n"

// SystemPrompt builds the effective system prompt for a unit: the base prompt
// of its kind plus the most specific context prompt covering its route.
func SystemPrompt(kind models.Kind, route string, prompts []*models.ContextSystemPrompt) string {
	var b strings.Builder
	b.WriteString(basePrompts[kind])
	b.WriteString("\n\n")
	b.WriteString(commonInstructions)
	if p := models.ResolvePrompt(prompts, route); p != nil && strings.TrimSpace(p.Prompt) != "" {
		b.WriteString("\n\n")
		b.WriteString(scopeHeader)
		b.WriteString(p.Prompt)
	}
	return b.String()
}
