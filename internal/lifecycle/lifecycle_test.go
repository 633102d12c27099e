package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_Table(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		to   Status
		ok   bool
	}{
		{Pending, Generate, Generating, true},
		{Failed, Generate, Generating, true},
		{Active, Generate, Active, false},
		{Generating, Generate, Generating, false},
		{Deploying, Generate, Deploying, false},
		{Archived, Generate, Archived, false},

		{Pending, Regenerate, Generating, true},
		{Active, Regenerate, Generating, true},
		{Success, Regenerate, Generating, true},
		{Failed, Regenerate, Generating, true},
		{Generating, Regenerate, Generating, false},
		{Deploying, Regenerate, Deploying, false},
		{Archived, Regenerate, Archived, false},

		{Generating, GenerationSucceeded, Active, true},
		{Generating, GenerationFailed, Failed, true},
		{Active, GenerationSucceeded, Active, false},

		{Active, DeployStarted, Deploying, true},
		{Success, DeployStarted, Deploying, true},
		{Pending, DeployStarted, Pending, false},
		{Deploying, DeploySucceeded, Success, true},
		{Deploying, DeployFailed, Failed, true},

		{Pending, Archive, Archived, true},
		{Success, Archive, Archived, true},
		{Generating, Archive, Generating, false},
		{Deploying, Archive, Deploying, false},
		{Archived, Archive, Archived, false},
	}
	for _, tc := range cases {
		to, err := Next(tc.from, tc.ev)
		assert.Equal(t, tc.to, to, "%s --%s-->", tc.from, tc.ev)
		if tc.ok {
			assert.NoError(t, err, "%s --%s-->", tc.from, tc.ev)
		} else {
			var ite *IllegalTransitionError
			assert.True(t, errors.As(err, &ite), "%s --%s-->", tc.from, tc.ev)
		}
	}
}

func TestArchivedIsTerminal(t *testing.T) {
	assert.Empty(t, Allowed(Archived))
}

func TestInFlightMessage(t *testing.T) {
	_, err := Next(Generating, Generate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in flight")
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Active ")
	require.NoError(t, err)
	assert.Equal(t, Active, s)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestEngineEvents(t *testing.T) {
	assert.True(t, GenerationFailed.IsEngineEvent())
	assert.True(t, DeployFailed.IsFailure())
	assert.False(t, Generate.IsEngineEvent())
	assert.False(t, Archive.IsEngineEvent())
}
