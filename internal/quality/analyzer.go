package quality

import (
	"regexp"

	"lorehub/pkg/types"
)

// Signal values attached by the analyzers.
const (
	thanksValue           = 0.4
	frustrationValue      = -0.5
	followUpValue         = -0.3
	positiveReactionValue = 0.5
	negativeReactionValue = -0.5
)

// Detection order matters: frustration outranks thanks outranks follow-up,
// so "thanks, but that's wrong" reads as frustration.
var messageClasses = []struct {
	signal  types.SignalType
	value   float64
	pattern *regexp.Regexp
}{
	{
		signal:  types.SignalFrustration,
		value:   frustrationValue,
		pattern: regexp.MustCompile(`(?i)\b(that'?s (wrong|incorrect|not right)|doesn'?t work|didn'?t work|not what i|still (broken|failing|not working)|useless|unhelpful|makes no sense)\b`),
	},
	{
		signal:  types.SignalThanks,
		value:   thanksValue,
		pattern: regexp.MustCompile(`(?i)\b(thanks|thank you|thx|ty|perfect|got it|that worked|exactly what i needed|great answer)\b`),
	},
	{
		signal:  types.SignalFollowUp,
		value:   followUpValue,
		pattern: regexp.MustCompile(`(?i)(\?$|\b(what about|how about|but (what|how|why|where)|can you clarify|i'?m still|still confused|what if)\b)`),
	},
}

var (
	positiveReactions = map[string]bool{
		"thumbsup": true, "+1": true, "tada": true, "white_check_mark": true,
		"heavy_check_mark": true, "raised_hands": true, "pray": true, "heart": true,
	}
	negativeReactions = map[string]bool{
		"thumbsdown": true, "-1": true, "x": true, "confused": true,
		"face_with_raised_eyebrow": true, "disappointed": true,
	}
)

// AnalyzeMessage classifies a thread reply under a bot answer. It returns
// false when the message carries no quality signal.
func AnalyzeMessage(text string) (types.SignalType, float64, bool) {
	if text == "" {
		return "", 0, false
	}
	for _, class := range messageClasses {
		if class.pattern.MatchString(text) {
			return class.signal, class.value, true
		}
	}
	return "", 0, false
}

// AnalyzeReaction classifies an emoji reaction on a bot answer by name,
// without the surrounding colons.
func AnalyzeReaction(name string) (types.SignalType, float64, bool) {
	switch {
	case positiveReactions[name]:
		return types.SignalPositiveReaction, positiveReactionValue, true
	case negativeReactions[name]:
		return types.SignalNegativeReaction, negativeReactionValue, true
	default:
		return "", 0, false
	}
}
