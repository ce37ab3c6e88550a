package rtm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserStory_Validate(t *testing.T) {
	t.Run("ValidWithEpic", func(t *testing.T) {
		u := &UserStory{
			ID: "US-00001", Title: "Login", StoryPoints: 5,
			Status: UserStoryStatusInProgress, TrackerRef: "TRK-70", EpicID: "EP-00010",
		}
		assert.NoError(t, u.Validate())
	})

	t.Run("OrphanMustNotCarryEpic", func(t *testing.T) {
		u := &UserStory{
			ID: "US-00001", Title: "Login", Status: UserStoryStatusPlanned,
			TrackerRef: "TRK-70", Orphan: true, EpicID: "EP-00010",
		}
		assert.ErrorIs(t, u.Validate(), ErrUserStoryOrphanHasEpic)
	})

	t.Run("NonOrphanMustCarryEpic", func(t *testing.T) {
		u := &UserStory{
			ID: "US-00001", Title: "Login", Status: UserStoryStatusPlanned, TrackerRef: "TRK-70",
		}
		assert.ErrorIs(t, u.Validate(), ErrUserStoryNotOrphanNoEpic)
	})

	t.Run("NegativePointsRejected", func(t *testing.T) {
		u := &UserStory{
			ID: "US-00001", Title: "Login", StoryPoints: -1, Status: UserStoryStatusPlanned,
			TrackerRef: "TRK-70", EpicID: "EP-00010",
		}
		assert.ErrorIs(t, u.Validate(), ErrUserStoryPointsNegative)
	})
}

func TestUserStory_ResolveParent(t *testing.T) {
	u := &UserStory{ID: "US-00100", Orphan: true, PendingEpicID: "EP-00099"}
	u.ResolveParent("EP-00099")

	assert.False(t, u.Orphan)
	assert.Equal(t, "EP-00099", u.EpicID)
	assert.Empty(t, u.PendingEpicID)
}
