package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbedded(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			m, err := Load(name)
			require.NoError(t, err)
			assert.Equal(t, name, m.Name())
			assert.NotEmpty(t, m.EndEffectors())
		})
	}
}

func TestHumanoidUpperIsATree(t *testing.T) {
	m, err := Load("humanoid_upper")
	require.NoError(t, err)
	assert.Equal(t, []string{"left_hand", "right_hand"}, m.EndEffectors())

	left, ok := m.Frame("left_hand")
	require.True(t, ok)
	right, ok := m.Frame("right_hand")
	require.True(t, ok)
	// both arms hang off the torso joint
	assert.Equal(t, m.Chain(left)[0], m.Chain(right)[0])
	assert.Len(t, m.Chain(left), 5)
}

func TestKR6IsASixJointArm(t *testing.T) {
	m, err := Load("kr6")
	require.NoError(t, err)
	flange, ok := m.Frame("flange")
	require.True(t, ok)
	assert.Len(t, m.Chain(flange), 6)
}

func TestLoadUnknown(t *testing.T) {
	_, err := Load("no_such_robot")
	assert.Error(t, err)
}
