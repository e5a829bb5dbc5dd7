package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTag(t *testing.T) {
	cases := map[string]string{
		"Machine Learning":    "#machine-learning",
		"#machine-learning":   "#machine-learning",
		"##Go  Concurrency":   "#go-concurrency",
		"  rust_lang ":        "#rust-lang",
		"C++ / templates":     "#c-templates",
		"--weird--dashes--":   "#weird-dashes",
		"#":                   "#untagged",
		"":                    "#untagged",
		"Ünïcode stays out 2": "#ncode-stays-out-2",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTag(in), "input %q", in)
	}
}

func TestNormalizeTagIdempotent(t *testing.T) {
	inputs := []string{
		"Machine Learning", "#already-clean", "  spaced   out  ", "UPPER_case", "a#b#c",
		"#", "tabs\tand\nnewlines", "emoji 🚀 rocket", "dots.and/slashes", "-lead", "trail-",
	}
	for _, in := range inputs {
		once := NormalizeTag(in)
		assert.Equal(t, once, NormalizeTag(once), "input %q", in)
		assert.True(t, strings.HasPrefix(once, "#"))
		assert.False(t, strings.HasPrefix(once, "##"))
		assert.NotContains(t, once, " ")
	}
}

func TestNormalizeTagsDedupes(t *testing.T) {
	got := NormalizeTags([]string{"Go", "#go", "rust", "", "Rust "})
	assert.Equal(t, []string{"#go", "#rust"}, got)
}

func TestResolvePromptPicksMostSpecific(t *testing.T) {
	prompts := []*ContextSystemPrompt{
		{Route: "s1", Prompt: "server"},
		{Route: "s1/c1", Prompt: "category"},
		{Route: "s1/c10", Prompt: "other category"},
		{Route: "s2", Prompt: "other server"},
	}

	p := ResolvePrompt(prompts, BuildRoute("s1", "c1", "ch1"))
	require.NotNil(t, p)
	assert.Equal(t, "category", p.Prompt)

	p = ResolvePrompt(prompts, BuildRoute("s1", "c2", "ch1"))
	require.NotNil(t, p)
	assert.Equal(t, "server", p.Prompt)

	assert.Nil(t, ResolvePrompt(prompts, "s3/c1"))
}

func TestValidateChildRoute(t *testing.T) {
	require.NoError(t, ValidateChildRoute("s1/c1", "s1/c1/ch1"))
	err := ValidateChildRoute("s1/c1", "s1/c10/ch1")
	assert.True(t, errors.Is(err, ErrRouteNotChild))
	assert.Equal(t, "s1/c1", BuildRoute("/s1/", "", "c1"))
}

func TestMessageValidate(t *testing.T) {
	thread, channel := "t1", "c1"
	assert.NoError(t, (&Message{ThreadID: &thread}).Validate())
	assert.NoError(t, (&Message{ChannelID: &channel}).Validate())
	assert.ErrorIs(t, (&Message{}).Validate(), ErrInvalidContainer)
	assert.ErrorIs(t, (&Message{ThreadID: &thread, ChannelID: &channel}).Validate(), ErrInvalidContainer)
	assert.ErrorIs(t, (&Thread{ID: "t1"}).Validate(), ErrMissingOwner)
}

func TestSnapshotLink(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := &Snapshot{
		Server:     &Server{ID: "s1", Name: "guild"},
		Categories: []*Category{{ID: "cat1", Name: "help", ServerID: "s1"}},
		Channels: []*Channel{
			{ID: "ch1", Name: "questions", ServerID: "s1", CategoryID: StringPtr("cat1")},
			{ID: "ch2", Name: "lobby", ServerID: "s1"},
		},
		Threads: []*Thread{{ID: "t1", Name: "how to", ChannelID: "ch1", OwnerID: "u1"}},
		Messages: []*Message{
			{ID: "m2", AuthorID: "u1", Timestamp: now.Add(time.Minute), ThreadID: StringPtr("t1"), Content: "second"},
			{ID: "m1", AuthorID: "u1", Timestamp: now, ThreadID: StringPtr("t1"), Content: "first"},
			{ID: "m3", AuthorID: "u1", Timestamp: now, ChannelID: StringPtr("ch2"), Content: "hello"},
		},
		Users:        []*User{{ID: "u1", Name: "ada"}},
		Participants: []ThreadParticipant{{ThreadID: "t1", UserID: "u1"}},
		Analyses:     []*AiAnalysis{{OwnerKind: KindThread, OwnerID: "t1", Title: "How to", Tags: []string{"Go"}}},
	}
	snap.Link()

	require.Len(t, snap.Server.Categories, 1)
	require.Len(t, snap.Server.Uncategorized, 1)
	thread := snap.Threads[0]
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "m1", thread.Messages[0].ID)
	assert.Equal(t, "s1/cat1/ch1/t1", thread.Route())
	assert.Equal(t, "s1/ch2", snap.Channels[1].Route())
	assert.Equal(t, "s1", snap.Users[0].Route())
	assert.Len(t, snap.Users[0].Messages, 3)
	require.NotNil(t, thread.Analysis())
	assert.Contains(t, snap.Channels[0].TextForAnalysis(), "How to")

	tags := snap.TagUnits()
	require.Len(t, tags, 1)
	assert.Equal(t, "#go", tags[0].Tag)
	assert.Len(t, snap.Units(), 6)
}

func TestTopicAreaPath(t *testing.T) {
	ta := TopicArea{Name: "Programming", Category: "Languages", Subject: "Go", Niche: "generics"}
	assert.Equal(t, "Programming > Languages > Go > generics", ta.Path())
	assert.Equal(t, "#programming", ta.Tag())
}

func TestCountTags(t *testing.T) {
	analyses := []*AiAnalysis{
		{OwnerKind: KindThread, Tags: []string{"#go", "Docker"}},
		{OwnerKind: KindThread, Tags: []string{"#docker", "#docker"}},
		{OwnerKind: KindChannel, Tags: []string{"#go"}},
	}
	assert.Equal(t, []TagCount{{Tag: "#docker", Count: 2}, {Tag: "#go", Count: 1}}, CountTags(analyses, KindThread))
	assert.Empty(t, CountTags(analyses, KindUser))
}
