package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lorehub/pkg/types"
)

func TestAnalyzeMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		signal types.SignalType
		value  float64
		ok     bool
	}{
		{"simple thanks", "thanks, that fixed it", types.SignalThanks, 0.4, true},
		{"thank you", "Thank you so much!", types.SignalThanks, 0.4, true},
		{"that worked", "perfect, that worked", types.SignalThanks, 0.4, true},
		{"frustration", "that's wrong, the port is 8443", types.SignalFrustration, -0.5, true},
		{"doesnt work", "this doesn't work on staging", types.SignalFrustration, -0.5, true},
		{"frustration beats thanks", "thanks but that's incorrect", types.SignalFrustration, -0.5, true},
		{"follow-up question", "what about the staging cluster?", types.SignalFollowUp, -0.3, true},
		{"trailing question mark", "and for canary deploys?", types.SignalFollowUp, -0.3, true},
		{"still confused", "I'm still confused about step two", types.SignalFollowUp, -0.3, true},
		{"thanks beats follow-up", "thanks! what about staging?", types.SignalThanks, 0.4, true},
		{"neutral", "deploying the fix now", "", 0, false},
		{"empty", "", "", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			signal, value, ok := AnalyzeMessage(tc.text)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.signal, signal)
				assert.InDelta(t, tc.value, value, 0.0001)
			}
		})
	}
}

func TestAnalyzeReaction(t *testing.T) {
	signal, value, ok := AnalyzeReaction("thumbsup")
	assert.True(t, ok)
	assert.Equal(t, types.SignalPositiveReaction, signal)
	assert.InDelta(t, 0.5, value, 0.0001)

	signal, value, ok = AnalyzeReaction("tada")
	assert.True(t, ok)
	assert.Equal(t, types.SignalPositiveReaction, signal)
	assert.InDelta(t, 0.5, value, 0.0001)

	signal, value, ok = AnalyzeReaction("thumbsdown")
	assert.True(t, ok)
	assert.Equal(t, types.SignalNegativeReaction, signal)
	assert.InDelta(t, -0.5, value, 0.0001)

	_, _, ok = AnalyzeReaction("eyes")
	assert.False(t, ok)
}
