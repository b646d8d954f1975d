// Package chat defines the chat-surface port: a small block model the
// adapters render natively, plus the event handler contract. The package
// is adapter-agnostic; Slack specifics live in slackadapter.
package chat

import "context"

// Surface is the outbound chat boundary.
type Surface interface {
	// PostMessage posts to a channel, threading under threadTS when set.
	// It returns the posted message's timestamp.
	PostMessage(ctx context.Context, channelID, threadTS string, msg *Message) (string, error)
	// PostEphemeral posts a message only the given user sees.
	PostEphemeral(ctx context.Context, channelID, userID string, msg *Message) error
	// UpdateMessage replaces a previously posted message in place.
	UpdateMessage(ctx context.Context, channelID, ts string, msg *Message) error
	// OpenModal opens a modal against a user interaction's trigger ID.
	OpenModal(ctx context.Context, triggerID string, modal *Modal) error
	// OpenDM opens (or reuses) a direct-message channel with a user.
	OpenDM(ctx context.Context, userID string) (string, error)
	// LookupUserByEmail resolves a workspace email to a user ID.
	LookupUserByEmail(ctx context.Context, email string) (string, error)
	// Run connects and dispatches inbound events to the handler until the
	// context is canceled.
	Run(ctx context.Context, h Handler) error
}

// Handler receives inbound chat events. Implementations must return fast;
// surfaces ack within their platform deadline and run handlers on
// background goroutines.
type Handler interface {
	// HandleCommand receives a slash command.
	HandleCommand(ctx context.Context, cmd *Command)
	// HandleQuestion receives an app mention or a direct message.
	HandleQuestion(ctx context.Context, ev *MessageEvent)
	// HandleThreadReply receives a non-mention reply inside a thread.
	HandleThreadReply(ctx context.Context, ev *MessageEvent)
	// HandleReaction receives an emoji reaction on a message.
	HandleReaction(ctx context.Context, ev *ReactionEvent)
	// HandleBlockAction receives a button click.
	HandleBlockAction(ctx context.Context, act *BlockAction)
	// HandleModalSubmit receives a submitted modal's values.
	HandleModalSubmit(ctx context.Context, sub *ModalSubmission)
}

// Command is a parsed slash command.
type Command struct {
	Name      string // without the prefix: help, create-knowledge, ...
	Text      string // everything after the command name
	ChannelID string
	UserID    string
	TriggerID string
}

// MessageEvent is an inbound message: mention, DM, or thread reply.
type MessageEvent struct {
	ChannelID   string
	UserID      string
	Text        string
	TS          string
	ThreadTS    string // empty outside threads
	ClientMsgID string // client-side dedup key when present
	IsDM        bool
}

// DedupKey identifies the event for at-least-once delivery dedup.
func (e *MessageEvent) DedupKey() string {
	if e.ClientMsgID != "" {
		return e.ClientMsgID
	}
	return e.ChannelID + ":" + e.TS
}

// ReactionEvent is an emoji reaction added to a message.
type ReactionEvent struct {
	ChannelID string
	UserID    string
	Reaction  string // emoji name without colons
	ItemTS    string // timestamp of the reacted-to message
}

// BlockAction is a button click on a posted message.
type BlockAction struct {
	ActionID  string
	Value     string
	ChannelID string
	UserID    string
	MessageTS string // message carrying the button
	ThreadTS  string
	TriggerID string
}

// ModalSubmission carries a submitted modal's inputs keyed by block ID.
type ModalSubmission struct {
	CallbackID      string
	UserID          string
	Values          map[string]string
	PrivateMetadata string
}
