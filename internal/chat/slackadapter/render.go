package slackadapter

import (
	"github.com/slack-go/slack"

	"lorehub/internal/chat"
)

func messageOptions(msg *chat.Message) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if blocks := renderBlocks(msg.Blocks); len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	return opts
}

func renderBlocks(blocks []chat.Block) []slack.Block {
	out := make([]slack.Block, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case chat.BlockSection:
			out = append(out, slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, b.Text, false, false), nil, nil))

		case chat.BlockContext:
			elements := make([]slack.MixedElement, 0, len(b.Lines))
			for _, line := range b.Lines {
				elements = append(elements, slack.NewTextBlockObject(slack.MarkdownType, line, false, false))
			}
			out = append(out, slack.NewContextBlock("", elements...))

		case chat.BlockActions:
			elements := make([]slack.BlockElement, 0, len(b.Buttons))
			for _, btn := range b.Buttons {
				elements = append(elements, renderButton(btn))
			}
			out = append(out, slack.NewActionBlock("", elements...))

		case chat.BlockDivider:
			out = append(out, slack.NewDividerBlock())
		}
	}
	return out
}

func renderButton(btn chat.Button) *slack.ButtonBlockElement {
	el := slack.NewButtonBlockElement(btn.ActionID, btn.Value,
		slack.NewTextBlockObject(slack.PlainTextType, btn.Label, true, false))
	switch btn.Style {
	case "primary":
		el = el.WithStyle(slack.StylePrimary)
	case "danger":
		el = el.WithStyle(slack.StyleDanger)
	}
	return el
}

func renderModal(modal *chat.Modal) slack.ModalViewRequest {
	blocks := make([]slack.Block, 0, len(modal.Inputs))
	for _, in := range modal.Inputs {
		blocks = append(blocks, renderInput(in))
	}

	submit := modal.SubmitLabel
	if submit == "" {
		submit = "Submit"
	}

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      modal.CallbackID,
		PrivateMetadata: modal.PrivateMetadata,
		Title:           slack.NewTextBlockObject(slack.PlainTextType, modal.Title, false, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, submit, false, false),
		Close:           slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks:          slack.Blocks{BlockSet: blocks},
	}
}

func renderInput(in chat.ModalInput) *slack.InputBlock {
	var placeholder *slack.TextBlockObject
	if in.Placeholder != "" {
		placeholder = slack.NewTextBlockObject(slack.PlainTextType, in.Placeholder, false, false)
	}

	var element slack.BlockElement
	switch in.Type {
	case chat.InputSelect:
		options := make([]*slack.OptionBlockObject, 0, len(in.Options))
		for _, opt := range in.Options {
			options = append(options, slack.NewOptionBlockObject(opt.Value,
				slack.NewTextBlockObject(slack.PlainTextType, opt.Label, false, false), nil))
		}
		element = slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, placeholder, in.BlockID, options...)

	case chat.InputMultiline:
		text := slack.NewPlainTextInputBlockElement(placeholder, in.BlockID)
		text.Multiline = true
		element = text

	default:
		element = slack.NewPlainTextInputBlockElement(placeholder, in.BlockID)
	}

	label := slack.NewTextBlockObject(slack.PlainTextType, in.Label, false, false)
	block := slack.NewInputBlock(in.BlockID, label, nil, element)
	block.Optional = !in.Required
	return block
}
