package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gonogo/rtm/internal/rtm"
)

var testStatusMapping = map[string]string{
	"open":        string(rtm.UserStoryStatusPlanned),
	"in progress": string(rtm.UserStoryStatusInProgress),
	"done":        string(rtm.UserStoryStatusDone),
	"resolved":    string(rtm.DefectStatusResolved),
}

func TestClassify(t *testing.T) {
	assert.Equal(t, entityUserStory, classify("US-00042"))
	assert.Equal(t, entityDefect, classify("DEF-00042"))
	assert.Equal(t, entityEpic, classify("EP-00042"))
	assert.Equal(t, entityUnknown, classify("CAP-00042"))
}

func TestExtractPoints(t *testing.T) {
	assert.Equal(t, 5, extractPoints([]string{"backend", "points:5"}))
	assert.Equal(t, 0, extractPoints([]string{"backend"}))
	assert.Equal(t, 0, extractPoints([]string{"points:-3"}), "negative points are not a valid label match")
}

func TestExtractParentEpic(t *testing.T) {
	body := "Some description.\nParent: EP-00010\nMore text."
	assert.Equal(t, "EP-00010", extractParentEpic(body))
	assert.Empty(t, extractParentEpic("no parent line here"))
}

func TestMapUserStory_RecognizedStatus(t *testing.T) {
	item := Item{
		Ref:    "US-00070",
		Title:  "Epic dependency ORM",
		Status: "in progress",
		Body:   "Parent: EP-00010",
		Labels: []string{"points:5"},
	}

	story, recognized := mapUserStory(item, testStatusMapping)
	assert.True(t, recognized)
	assert.Equal(t, rtm.UserStoryStatusInProgress, story.Status)
	assert.Equal(t, 5, story.StoryPoints)
	assert.Equal(t, "EP-00010", story.PendingEpicID)
	assert.Equal(t, "US-00070", story.TrackerRef)
}

func TestMapUserStory_UnrecognizedStatusLeftEmpty(t *testing.T) {
	item := Item{Ref: "US-00071", Title: "Something", Status: "triage-pending"}

	story, recognized := mapUserStory(item, testStatusMapping)
	assert.False(t, recognized)
	assert.Empty(t, story.Status, "unrecognized label must not be mapped to any status")
}

func TestMapDefect_RecognizedStatus(t *testing.T) {
	item := Item{Ref: "DEF-00012", Title: "Null pointer on checkout", Status: "resolved"}

	defect, recognized := mapDefect(item, testStatusMapping)
	assert.True(t, recognized)
	assert.Equal(t, rtm.DefectStatusResolved, defect.Status)
	assert.Equal(t, "DEF-00012", defect.TrackerRef)
}
