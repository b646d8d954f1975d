package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorehub/pkg/types"
)

func TestFeedbackActionIDRoundTrip(t *testing.T) {
	for _, ft := range []types.FeedbackType{
		types.FeedbackHelpful,
		types.FeedbackOutdated,
		types.FeedbackIncorrect,
		types.FeedbackConfusing,
	} {
		id := FeedbackActionID(ft, "1724680000.123456")
		got, ts, ok := ParseFeedbackActionID(id)
		require.True(t, ok, "action ID %q should parse", id)
		assert.Equal(t, ft, got)
		assert.Equal(t, "1724680000.123456", ts)
	}
}

func TestParseFeedbackActionIDRejectsNonFeedback(t *testing.T) {
	cases := []string{
		"",
		"view_thread",
		"feedback_helpful_",
		"feedback_helpful_notats",
		"feedback_amazing_1724680000.123456",
		"feedback_helpful_1724680000.123456_extra",
	}
	for _, id := range cases {
		_, _, ok := ParseFeedbackActionID(id)
		assert.False(t, ok, "%q should not parse", id)
	}
}

func TestFeedbackButtonsCoverAllTypes(t *testing.T) {
	buttons := FeedbackButtons("1724680000.000100")
	require.Len(t, buttons, 4)

	seen := map[types.FeedbackType]bool{}
	for _, b := range buttons {
		ft, ts, ok := ParseFeedbackActionID(b.ActionID)
		require.True(t, ok)
		assert.Equal(t, "1724680000.000100", ts)
		seen[ft] = true
	}
	assert.Len(t, seen, 4)
}

func TestMessageBuilders(t *testing.T) {
	msg := NewMessage("fallback").
		AddSection("body").
		AddContext("a", "b").
		AddDivider().
		AddActions(Button{ActionID: "x", Label: "X"})

	require.Len(t, msg.Blocks, 4)
	assert.Equal(t, "fallback", msg.Text)
	assert.Equal(t, BlockSection, msg.Blocks[0].Type)
	assert.Equal(t, "body", msg.Blocks[0].Text)
	assert.Equal(t, []string{"a", "b"}, msg.Blocks[1].Lines)
	assert.Equal(t, BlockDivider, msg.Blocks[2].Type)
	require.Len(t, msg.Blocks[3].Buttons, 1)
	assert.Equal(t, "x", msg.Blocks[3].Buttons[0].ActionID)
}

func TestMessageEventDedupKey(t *testing.T) {
	withClient := &MessageEvent{ChannelID: "C1", TS: "1.2", ClientMsgID: "uuid-1"}
	assert.Equal(t, "uuid-1", withClient.DedupKey())

	without := &MessageEvent{ChannelID: "C1", TS: "1.2"}
	assert.Equal(t, "C1:1.2", without.DedupKey())
}

func TestFeedbackModalSchemas(t *testing.T) {
	t.Run("incorrect", func(t *testing.T) {
		m := IncorrectFeedbackModal("meta")
		assert.Equal(t, CallbackIncorrectFeedback, m.CallbackID)
		assert.Equal(t, "meta", m.PrivateMetadata)
		require.Len(t, m.Inputs, 3)

		assert.Equal(t, "what_incorrect", m.Inputs[0].BlockID)
		assert.True(t, m.Inputs[0].Required)
		assert.Equal(t, InputMultiline, m.Inputs[0].Type)
		assert.Equal(t, "correct_information", m.Inputs[1].BlockID)
		assert.False(t, m.Inputs[1].Required)

		evidence := m.Inputs[2]
		assert.Equal(t, "evidence", evidence.BlockID)
		assert.Equal(t, InputSelect, evidence.Type)
		assert.Equal(t, []string{"official_docs", "tested_myself", "colleague_told_me", "other"}, optionValues(evidence.Options))
	})

	t.Run("outdated", func(t *testing.T) {
		m := OutdatedFeedbackModal("meta")
		assert.Equal(t, CallbackOutdatedFeedback, m.CallbackID)
		require.Len(t, m.Inputs, 3)
		assert.Equal(t, "what_outdated", m.Inputs[0].BlockID)
		assert.True(t, m.Inputs[0].Required)
		assert.Equal(t, "current_information", m.Inputs[1].BlockID)
		assert.Equal(t, "when_changed", m.Inputs[2].BlockID)
		assert.Equal(t, InputText, m.Inputs[2].Type)
	})

	t.Run("confusing", func(t *testing.T) {
		m := ConfusingFeedbackModal("meta")
		assert.Equal(t, CallbackConfusingFeedback, m.CallbackID)
		require.Len(t, m.Inputs, 2)

		kind := m.Inputs[0]
		assert.Equal(t, "confusion_type", kind.BlockID)
		assert.True(t, kind.Required)
		assert.Equal(t, []string{"unclear", "too_technical", "missing_context", "contradictory", "other"}, optionValues(kind.Options))
		assert.Equal(t, "clarification_needed", m.Inputs[1].BlockID)
	})

	t.Run("create-doc", func(t *testing.T) {
		m := CreateDocModal("")
		assert.Equal(t, CallbackCreateDoc, m.CallbackID)
		require.Len(t, m.Inputs, 5)
		ids := make([]string, 0, len(m.Inputs))
		for _, in := range m.Inputs {
			ids = append(ids, in.BlockID)
			assert.True(t, in.Required, "%s should be required", in.BlockID)
		}
		assert.Equal(t, []string{"area", "doc_type", "classification", "title", "content"}, ids)
	})
}

func optionValues(opts []SelectOption) []string {
	vals := make([]string, len(opts))
	for i, o := range opts {
		vals[i] = o.Value
	}
	return vals
}

func TestHelpMessage(t *testing.T) {
	t.Run("all sections", func(t *testing.T) {
		msg := HelpMessage("")
		require.Len(t, msg.Blocks, 4)
		assert.Contains(t, msg.Blocks[0].Text, "*Ask*")
		assert.Contains(t, msg.Blocks[1].Text, "*Feedback*")
		assert.Contains(t, msg.Blocks[2].Text, "*Ingest*")
		assert.Contains(t, msg.Blocks[3].Text, "*Admin*")
	})

	t.Run("single section", func(t *testing.T) {
		msg := HelpMessage("ingest")
		require.Len(t, msg.Blocks, 1)
		assert.Contains(t, msg.Blocks[0].Text, "ingest-doc")
	})

	t.Run("case insensitive", func(t *testing.T) {
		msg := HelpMessage("  Feedback ")
		require.Len(t, msg.Blocks, 1)
	})

	t.Run("unknown section", func(t *testing.T) {
		msg := HelpMessage("nope")
		require.Len(t, msg.Blocks, 1)
		assert.Contains(t, msg.Blocks[0].Text, "ask, feedback, ingest, admin")
	})
}
