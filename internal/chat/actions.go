package chat

import (
	"fmt"
	"regexp"

	"lorehub/pkg/types"
)

// Feedback buttons encode the feedback type and the answer's message
// timestamp in the action ID so the handler can recover both without
// any server-side state.
var feedbackActionPattern = regexp.MustCompile(`^feedback_(helpful|outdated|incorrect|confusing)_(\d+\.\d+)$`)

// FeedbackActionID builds the action ID for a feedback button under
// the answer posted at messageTS.
func FeedbackActionID(ft types.FeedbackType, messageTS string) string {
	return fmt.Sprintf("feedback_%s_%s", ft, messageTS)
}

// ParseFeedbackActionID extracts the feedback type and message
// timestamp from a feedback button's action ID. The boolean reports
// whether the ID is a feedback action at all.
func ParseFeedbackActionID(actionID string) (types.FeedbackType, string, bool) {
	m := feedbackActionPattern.FindStringSubmatch(actionID)
	if m == nil {
		return "", "", false
	}
	return types.FeedbackType(m[1]), m[2], true
}

// FeedbackButtons returns the standard row of feedback buttons for an
// answer message.
func FeedbackButtons(messageTS string) []Button {
	return []Button{
		{ActionID: FeedbackActionID(types.FeedbackHelpful, messageTS), Label: "👍 Helpful", Style: "primary"},
		{ActionID: FeedbackActionID(types.FeedbackOutdated, messageTS), Label: "Outdated"},
		{ActionID: FeedbackActionID(types.FeedbackIncorrect, messageTS), Label: "Incorrect", Style: "danger"},
		{ActionID: FeedbackActionID(types.FeedbackConfusing, messageTS), Label: "Confusing"},
	}
}
