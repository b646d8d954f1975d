// Package slackadapter implements the chat.Surface port on Slack's
// Socket Mode. It renders the surface-neutral block model to Slack
// blocks and translates inbound Socket Mode envelopes into the chat
// package's events.
package slackadapter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"lorehub/internal/chat"
	"lorehub/internal/config"
	"lorehub/internal/logging"
)

const defaultCallTimeout = 30 * time.Second

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Adapter connects a Socket Mode client to a chat.Handler.
type Adapter struct {
	api         *slack.Client
	socket      *socketmode.Client
	botUserID   string
	callTimeout time.Duration
	logger      logging.Logger
}

// New builds the adapter from chat configuration. It performs an auth
// test so the bot's own messages can be filtered out.
func New(cfg config.ChatConfig) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, errors.New("slack: bot token and app token are required")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, errors.New("slack: app token must start with xapp-")
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	timeout := defaultCallTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth test failed: %w", err)
	}

	return &Adapter{
		api:         api,
		socket:      socketmode.New(api),
		botUserID:   auth.UserID,
		callTimeout: timeout,
		logger:      logging.WithComponent("slack"),
	}, nil
}

// BotUserID returns the authenticated bot user's ID.
func (a *Adapter) BotUserID() string { return a.botUserID }

func (a *Adapter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.callTimeout)
}

// PostMessage posts msg to a channel, threading under threadTS when set.
func (a *Adapter) PostMessage(ctx context.Context, channelID, threadTS string, msg *chat.Message) (string, error) {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	opts := messageOptions(msg)
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := a.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("post message to %s: %w", channelID, err)
	}
	return ts, nil
}

// PostEphemeral posts msg visibly only to userID.
func (a *Adapter) PostEphemeral(ctx context.Context, channelID, userID string, msg *chat.Message) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	if _, err := a.api.PostEphemeralContext(ctx, channelID, userID, messageOptions(msg)...); err != nil {
		return fmt.Errorf("post ephemeral to %s: %w", channelID, err)
	}
	return nil
}

// UpdateMessage replaces the message at ts in place.
func (a *Adapter) UpdateMessage(ctx context.Context, channelID, ts string, msg *chat.Message) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	if _, _, _, err := a.api.UpdateMessageContext(ctx, channelID, ts, messageOptions(msg)...); err != nil {
		return fmt.Errorf("update message %s in %s: %w", ts, channelID, err)
	}
	return nil
}

// OpenModal opens modal against the interaction's trigger ID.
func (a *Adapter) OpenModal(ctx context.Context, triggerID string, modal *chat.Modal) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	if _, err := a.api.OpenViewContext(ctx, triggerID, renderModal(modal)); err != nil {
		return fmt.Errorf("open modal %s: %w", modal.CallbackID, err)
	}
	return nil
}

// OpenDM opens (or reuses) a direct-message channel with userID.
func (a *Adapter) OpenDM(ctx context.Context, userID string) (string, error) {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	ch, _, _, err := a.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return "", fmt.Errorf("open DM with %s: %w", userID, err)
	}
	return ch.ID, nil
}

// LookupUserByEmail resolves a workspace email to a Slack user ID.
func (a *Adapter) LookupUserByEmail(ctx context.Context, email string) (string, error) {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	user, err := a.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", email, err)
	}
	return user.ID, nil
}

// Run connects the Socket Mode client and dispatches events to h until
// ctx is canceled. Every envelope is acked before its handler runs so
// Slack's delivery deadline is never at the mercy of downstream work.
func (a *Adapter) Run(ctx context.Context, h chat.Handler) error {
	go a.dispatchLoop(ctx, h)
	return a.socket.RunContext(ctx)
}

func (a *Adapter) dispatchLoop(ctx context.Context, h chat.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.dispatch(ctx, h, evt)
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, h chat.Handler, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.logger.Info("connected to workspace")
	case socketmode.EventTypeConnectionError:
		a.logger.Warn("socket connection error", "error", fmt.Sprintf("%v", evt.Data))

	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)
		go a.dispatchEventsAPI(ctx, h, apiEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)
		go h.HandleCommand(ctx, parseCommand(cmd))

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)
		go a.dispatchInteraction(ctx, h, callback)
	}
}

func (a *Adapter) dispatchEventsAPI(ctx context.Context, h chat.Handler, apiEvent slackevents.EventsAPIEvent) {
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		h.HandleQuestion(ctx, &chat.MessageEvent{
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Text:      stripMentions(ev.Text),
			TS:        ev.TimeStamp,
			ThreadTS:  ev.ThreadTimeStamp,
		})

	case *slackevents.MessageEvent:
		a.dispatchMessage(ctx, h, ev)

	case *slackevents.ReactionAddedEvent:
		if ev.User == a.botUserID {
			return
		}
		h.HandleReaction(ctx, &chat.ReactionEvent{
			ChannelID: ev.Item.Channel,
			UserID:    ev.User,
			Reaction:  ev.Reaction,
			ItemTS:    ev.Item.Timestamp,
		})
	}
}

func (a *Adapter) dispatchMessage(ctx context.Context, h chat.Handler, ev *slackevents.MessageEvent) {
	// Skip our own messages and anything synthetic (edits, joins, bots).
	if ev.User == a.botUserID || ev.BotID != "" || ev.SubType != "" {
		return
	}
	// Mentions arrive separately as app_mention; don't double-handle.
	if strings.Contains(ev.Text, "<@"+a.botUserID+">") {
		return
	}

	msg := &chat.MessageEvent{
		ChannelID:   ev.Channel,
		UserID:      ev.User,
		Text:        stripMentions(ev.Text),
		TS:          ev.TimeStamp,
		ThreadTS:    ev.ThreadTimeStamp,
		ClientMsgID: ev.ClientMsgID,
		IsDM:        ev.ChannelType == "im",
	}

	switch {
	case msg.IsDM && msg.ThreadTS == "":
		h.HandleQuestion(ctx, msg)
	case msg.ThreadTS != "" && msg.ThreadTS != msg.TS:
		h.HandleThreadReply(ctx, msg)
	}
}

func (a *Adapter) dispatchInteraction(ctx context.Context, h chat.Handler, callback slack.InteractionCallback) {
	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		for _, action := range callback.ActionCallback.BlockActions {
			h.HandleBlockAction(ctx, &chat.BlockAction{
				ActionID:  action.ActionID,
				Value:     action.Value,
				ChannelID: callback.Channel.ID,
				UserID:    callback.User.ID,
				MessageTS: callback.Message.Timestamp,
				ThreadTS:  callback.Message.ThreadTimestamp,
				TriggerID: callback.TriggerID,
			})
		}

	case slack.InteractionTypeViewSubmission:
		h.HandleModalSubmit(ctx, &chat.ModalSubmission{
			CallbackID:      callback.View.CallbackID,
			UserID:          callback.User.ID,
			Values:          flattenViewState(callback.View.State),
			PrivateMetadata: callback.View.PrivateMetadata,
		})
	}
}

func parseCommand(cmd slack.SlashCommand) *chat.Command {
	name, rest, _ := strings.Cut(strings.TrimSpace(cmd.Text), " ")
	return &chat.Command{
		Name:      strings.ToLower(name),
		Text:      strings.TrimSpace(rest),
		ChannelID: cmd.ChannelID,
		UserID:    cmd.UserID,
		TriggerID: cmd.TriggerID,
	}
}

// stripMentions removes user mentions so questions read clean.
func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// flattenViewState maps block ID to the entered value. Inputs carry a
// single element per block, so the inner action ID is irrelevant.
func flattenViewState(state *slack.ViewState) map[string]string {
	values := make(map[string]string)
	if state == nil {
		return values
	}
	for blockID, actions := range state.Values {
		for _, v := range actions {
			switch {
			case v.SelectedOption.Value != "":
				values[blockID] = v.SelectedOption.Value
			case v.Value != "":
				values[blockID] = v.Value
			}
		}
	}
	return values
}
