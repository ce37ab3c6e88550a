package rtm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpic_Validate(t *testing.T) {
	t.Run("ValidEpic", func(t *testing.T) {
		e := &Epic{ID: "EP-00001", Title: "Checkout revamp", Status: EpicStatusPlanned}
		assert.NoError(t, e.Validate())
	})

	t.Run("InvalidID", func(t *testing.T) {
		e := &Epic{ID: "EPIC-1", Title: "x", Status: EpicStatusPlanned}
		assert.ErrorIs(t, e.Validate(), ErrEpicIDInvalid)
	})

	t.Run("EmptyTitle", func(t *testing.T) {
		e := &Epic{ID: "EP-00001", Title: "  ", Status: EpicStatusPlanned}
		assert.ErrorIs(t, e.Validate(), ErrEpicTitleEmpty)
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		e := &Epic{ID: "EP-00001", Title: "x", Status: "bogus"}
		assert.ErrorIs(t, e.Validate(), ErrEpicStatusInvalid)
	})
}

func TestEpicStatus_IsRegression(t *testing.T) {
	assert.True(t, EpicStatusDone.IsRegression(EpicStatusPlanned))
	assert.False(t, EpicStatusPlanned.IsRegression(EpicStatusDone))
	assert.False(t, EpicStatusPlanned.IsRegression(EpicStatusPlanned))
}

func TestEpic_TransitionStatus(t *testing.T) {
	t.Run("ForwardTransitionAllowed", func(t *testing.T) {
		e := &Epic{ID: "EP-00001", Title: "x", Status: EpicStatusPlanned}
		regressed, err := e.TransitionStatus(EpicStatusInProgress, false)
		assert.NoError(t, err)
		assert.False(t, regressed)
		assert.Equal(t, EpicStatusInProgress, e.Status)
	})

	t.Run("RegressionDeniedWithoutAdminFlag", func(t *testing.T) {
		e := &Epic{ID: "EP-00001", Title: "x", Status: EpicStatusDone}
		regressed, err := e.TransitionStatus(EpicStatusPlanned, false)
		assert.True(t, regressed)
		assert.True(t, errors.Is(err, ErrStatusRegressionDenied))
		assert.Equal(t, EpicStatusDone, e.Status, "status must not change on denied regression")
	})

	t.Run("RegressionAllowedWithAdminFlag", func(t *testing.T) {
		e := &Epic{ID: "EP-00001", Title: "x", Status: EpicStatusDone}
		regressed, err := e.TransitionStatus(EpicStatusPlanned, true)
		assert.NoError(t, err)
		assert.True(t, regressed)
		assert.Equal(t, EpicStatusPlanned, e.Status)
	})
}
