package rtm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpicDependency_Validate(t *testing.T) {
	t.Run("ValidBlocksEdge", func(t *testing.T) {
		d := &EpicDependency{FromEpicID: "EP-00001", ToEpicID: "EP-00002", Kind: DependencyKindBlocks}
		assert.NoError(t, d.Validate())
	})

	t.Run("SelfLoopRejected", func(t *testing.T) {
		d := &EpicDependency{FromEpicID: "EP-00001", ToEpicID: "EP-00001", Kind: DependencyKindBlocks}
		assert.ErrorIs(t, d.Validate(), ErrDependencySelfLoop)
	})

	t.Run("InvalidKindRejected", func(t *testing.T) {
		d := &EpicDependency{FromEpicID: "EP-00001", ToEpicID: "EP-00002", Kind: "contains"}
		assert.ErrorIs(t, d.Validate(), ErrDependencyKindInvalid)
	})

	t.Run("EmptyEndpointRejected", func(t *testing.T) {
		d := &EpicDependency{FromEpicID: "", ToEpicID: "EP-00002", Kind: DependencyKindBlocks}
		assert.ErrorIs(t, d.Validate(), ErrDependencyEndpointEmpty)
	})
}
