// Package orchestrator turns inbound chat events into retrieval-backed
// answers and routes feedback into the quality and escalation loops. It
// implements chat.Handler.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lorehub/internal/ai"
	"lorehub/internal/analytics"
	"lorehub/internal/chat"
	"lorehub/internal/ingest"
	"lorehub/internal/logging"
	"lorehub/internal/quality"
	"lorehub/internal/retrieval"
	"lorehub/pkg/types"
)

const (
	answerK         = 5
	dedupCapacity   = 1000
	threadCacheSize = 500
	threadCacheTurn = 10
)

// Searcher is the retrieval surface the orchestrator needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filters *types.SearchFilters, opts ...retrieval.Option) (*types.SearchResults, error)
	RecordAccess(ctx context.Context, chunkIDs []string)
}

// FeedbackSink applies feedback and behavioral signals to chunk quality.
type FeedbackSink interface {
	ApplyFeedback(ctx context.Context, rec *types.FeedbackRecord) error
	RecordSignal(ctx context.Context, sig *types.BehavioralSignal) error
}

// Escalator routes negative feedback to document owners.
type Escalator interface {
	EscalateFeedback(ctx context.Context, rec *types.FeedbackRecord, chunkIDs []string) error
}

// Ingestor covers the chat-originated ingestion paths.
type Ingestor interface {
	IngestQuickFact(ctx context.Context, text, authorID, authorName string) (*types.Chunk, error)
	IngestURL(ctx context.Context, rawURL, requestedBy string) (*ingest.SyncReport, error)
}

// Orchestrator wires the question-answer loop. All Handle* methods are
// called on surface goroutines and must not block the event stream.
type Orchestrator struct {
	surface   chat.Surface
	searcher  Searcher
	llm       ai.LLM
	feedback  FeedbackSink
	escalator Escalator
	ingestor  Ingestor
	store     analytics.Store
	logger    logging.Logger

	dedup   *dedupSet
	threads *threadCache
}

// New builds the orchestrator. escalator and ingestor may be nil when
// those surfaces are disabled.
func New(surface chat.Surface, searcher Searcher, llm ai.LLM, feedback FeedbackSink, escalator Escalator, ingestor Ingestor, store analytics.Store) *Orchestrator {
	return &Orchestrator{
		surface:   surface,
		searcher:  searcher,
		llm:       llm,
		feedback:  feedback,
		escalator: escalator,
		ingestor:  ingestor,
		store:     store,
		logger:    logging.WithComponent("orchestrator"),
		dedup:     newDedupSet(dedupCapacity),
		threads:   newThreadCache(threadCacheSize, threadCacheTurn),
	}
}

// HandleQuestion answers a mention or DM.
func (o *Orchestrator) HandleQuestion(ctx context.Context, ev *chat.MessageEvent) {
	if o.dedup.Seen(ev.DedupKey()) {
		return
	}
	question := strings.TrimSpace(ev.Text)
	if question == "" {
		return
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}
	threadKey := ev.ChannelID + ":" + threadTS

	results, err := o.searcher.Search(ctx, question, answerK, nil)
	if err != nil {
		o.logger.Error("search failed", "error", err)
		if _, perr := o.surface.PostMessage(ctx, ev.ChannelID, threadTS, chat.NewMessage(unavailableAnswer).AddSection(unavailableAnswer)); perr != nil {
			o.logger.Error("failed to post unavailable notice", "error", perr)
		}
		return
	}

	var answer string
	var chunkIDs []string
	if len(results.Results) == 0 {
		answer = noResultsAnswer
	} else {
		chunkIDs = results.ChunkIDs()
		o.searcher.RecordAccess(ctx, chunkIDs)

		history := o.threads.Turns(threadKey)
		answer, err = o.llm.Generate(ctx, buildPrompt(question, history, results.Results))
		if err != nil {
			o.logger.Warn("generation failed, using fallback", "error", err)
			answer = fmt.Sprintf(fallbackAnswerFmt, len(results.Results))
		}
	}

	msg := chat.NewMessage(answer).AddSection(answer)
	if len(results.Results) > 0 {
		msg.AddContext(sourceLines(results.Results)...)
	}

	ts, err := o.surface.PostMessage(ctx, ev.ChannelID, threadTS, msg)
	if err != nil {
		o.logger.Error("failed to post answer", "channel", ev.ChannelID, "error", err)
		return
	}

	// The button values need the posted ts, so attach them in an update.
	msg.AddActions(chat.FeedbackButtons(ts)...)
	if err := o.surface.UpdateMessage(ctx, ev.ChannelID, ts, msg); err != nil {
		o.logger.Warn("failed to attach feedback buttons", "error", err)
	}

	o.threads.Append(threadKey, "user", question)
	o.threads.Append(threadKey, "assistant", answer)

	resp := &types.BotResponse{
		ResponseTS:   ts,
		ThreadTS:     threadTS,
		ChannelID:    ev.ChannelID,
		UserID:       ev.UserID,
		Query:        question,
		ResponseText: answer,
		ChunkIDs:     chunkIDs,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.store.SaveBotResponse(ctx, resp); err != nil {
		o.logger.Error("failed to persist bot response", "response_ts", ts, "error", err)
	}
}

// HandleThreadReply converts replies under bot answers into signals.
func (o *Orchestrator) HandleThreadReply(ctx context.Context, ev *chat.MessageEvent) {
	if o.dedup.Seen(ev.DedupKey()) {
		return
	}

	resp := o.latestResponseInThread(ctx, ev.ChannelID, ev.ThreadTS)
	if resp == nil {
		return
	}

	o.threads.Append(ev.ChannelID+":"+ev.ThreadTS, "user", ev.Text)

	signalType, value, ok := quality.AnalyzeMessage(ev.Text)
	if !ok {
		return
	}

	sig, err := types.NewBehavioralSignal(resp.ResponseTS, ev.UserID, signalType, value, resp.ChunkIDs)
	if err != nil {
		o.logger.Error("invalid signal", "error", err)
		return
	}
	sig.ThreadRef = ev.ChannelID + ":" + ev.ThreadTS
	sig.RawText = trimTo(ev.Text, maxTurnChars)

	if err := o.feedback.RecordSignal(ctx, sig); err != nil {
		o.logger.Error("failed to record signal", "signal_type", string(signalType), "error", err)
	}

	if signalType == types.SignalFollowUp && !resp.HasFollowUp {
		if err := o.store.MarkFollowUp(ctx, resp.ResponseTS); err != nil {
			o.logger.Warn("failed to mark follow-up", "response_ts", resp.ResponseTS, "error", err)
		}
	}
}

// HandleReaction converts emoji reactions on bot answers into signals.
func (o *Orchestrator) HandleReaction(ctx context.Context, ev *chat.ReactionEvent) {
	signalType, value, ok := quality.AnalyzeReaction(ev.Reaction)
	if !ok {
		return
	}

	resp, err := o.store.GetBotResponse(ctx, ev.ItemTS)
	if err != nil {
		if !errors.Is(err, analytics.ErrNotFound) {
			o.logger.Error("failed to look up bot response", "error", err)
		}
		return
	}

	sig, err := types.NewBehavioralSignal(resp.ResponseTS, ev.UserID, signalType, value, resp.ChunkIDs)
	if err != nil {
		o.logger.Error("invalid signal", "error", err)
		return
	}
	sig.RawText = ev.Reaction

	if err := o.feedback.RecordSignal(ctx, sig); err != nil {
		o.logger.Error("failed to record reaction signal", "error", err)
	}
}

// HandleBlockAction routes feedback button clicks.
func (o *Orchestrator) HandleBlockAction(ctx context.Context, act *chat.BlockAction) {
	ft, messageTS, ok := chat.ParseFeedbackActionID(act.ActionID)
	if !ok {
		o.logger.Debug("ignoring unknown action", "action_id", act.ActionID)
		return
	}

	resp, err := o.store.GetBotResponse(ctx, messageTS)
	if err != nil {
		o.logger.Error("feedback for unknown response", "message_ts", messageTS, "error", err)
		return
	}

	if ft == types.FeedbackHelpful {
		o.recordFeedback(ctx, resp, act.UserID, ft, nil)
		o.acknowledgeHelpful(ctx, act.ChannelID, messageTS, resp)
		return
	}

	modal := feedbackModal(ft, encodeFeedbackMetadata(ft, messageTS))
	if err := o.surface.OpenModal(ctx, act.TriggerID, modal); err != nil {
		o.logger.Error("failed to open feedback modal", "feedback_type", string(ft), "error", err)
	}
}

// HandleModalSubmit completes the negative-feedback and create-doc flows.
func (o *Orchestrator) HandleModalSubmit(ctx context.Context, sub *chat.ModalSubmission) {
	switch sub.CallbackID {
	case chat.CallbackIncorrectFeedback, chat.CallbackOutdatedFeedback, chat.CallbackConfusingFeedback:
		o.completeFeedback(ctx, sub)
	case chat.CallbackCreateDoc:
		o.completeCreateDoc(ctx, sub)
	default:
		o.logger.Debug("ignoring unknown modal", "callback_id", sub.CallbackID)
	}
}

func (o *Orchestrator) completeFeedback(ctx context.Context, sub *chat.ModalSubmission) {
	ft, messageTS, err := decodeFeedbackMetadata(sub.PrivateMetadata)
	if err != nil {
		o.logger.Error("bad modal metadata", "error", err)
		return
	}

	resp, err := o.store.GetBotResponse(ctx, messageTS)
	if err != nil {
		o.logger.Error("feedback for unknown response", "message_ts", messageTS, "error", err)
		return
	}

	detail := feedbackDetail(sub)
	recs := o.recordFeedback(ctx, resp, sub.UserID, ft, detail)
	if o.escalator == nil {
		return
	}
	for _, rec := range recs {
		if err := o.escalator.EscalateFeedback(ctx, rec, resp.ChunkIDs); err != nil {
			o.logger.Error("escalation failed", "chunk_id", rec.ChunkID, "error", err)
		}
		break // one escalation per submission covers all cited chunks
	}
}

// recordFeedback applies one FeedbackRecord per cited chunk, skipping
// chunks this user already rated the same way on this message.
func (o *Orchestrator) recordFeedback(ctx context.Context, resp *types.BotResponse, userID string, ft types.FeedbackType, detail *feedbackFields) []*types.FeedbackRecord {
	threadRef := resp.ChannelID + ":" + resp.ResponseTS
	var recorded []*types.FeedbackRecord

	for _, chunkID := range resp.ChunkIDs {
		seen, err := o.store.HasFeedback(ctx, chunkID, userID, ft, resp.ResponseTS)
		if err != nil {
			o.logger.Error("feedback dedup check failed", "chunk_id", chunkID, "error", err)
			continue
		}
		if seen {
			continue
		}

		rec, err := types.NewFeedbackRecord(chunkID, userID, ft)
		if err != nil {
			o.logger.Error("invalid feedback record", "error", err)
			continue
		}
		rec.QueryContext = resp.Query
		rec.ThreadRef = threadRef
		if detail != nil {
			rec.Comment = detail.Comment
			rec.SuggestedCorrection = detail.Correction
			rec.Evidence = detail.Evidence
		}

		if err := o.feedback.ApplyFeedback(ctx, rec); err != nil {
			o.logger.Error("failed to apply feedback", "chunk_id", chunkID, "error", err)
			continue
		}
		recorded = append(recorded, rec)
	}
	return recorded
}

// acknowledgeHelpful swaps the feedback buttons for a thank-you note.
func (o *Orchestrator) acknowledgeHelpful(ctx context.Context, channelID, messageTS string, resp *types.BotResponse) {
	msg := chat.NewMessage(resp.ResponseText).
		AddSection(resp.ResponseText).
		AddContext("✅ Thanks for the feedback!")
	if err := o.surface.UpdateMessage(ctx, channelID, messageTS, msg); err != nil {
		o.logger.Warn("failed to update helpful message", "error", err)
	}
}

func (o *Orchestrator) completeCreateDoc(ctx context.Context, sub *chat.ModalSubmission) {
	if o.ingestor == nil {
		return
	}
	title := sub.Values["title"]
	content := sub.Values["content"]
	body := fmt.Sprintf("%s\n\n%s", title, content)

	if _, err := o.ingestor.IngestQuickFact(ctx, body, sub.UserID, ""); err != nil {
		o.logger.Error("create-doc ingest failed", "error", err)
		return
	}
	o.logger.Info("document created from chat",
		"title", title,
		"area", sub.Values["area"],
		"doc_type", sub.Values["doc_type"])
}

// HandleCommand dispatches slash commands.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *chat.Command) {
	switch cmd.Name {
	case "", "help":
		o.postEphemeral(ctx, cmd, chat.HelpMessage(cmd.Text))

	case "create-knowledge":
		if strings.TrimSpace(cmd.Text) == "" {
			o.postEphemeral(ctx, cmd, chat.NewMessage("Usage: create-knowledge <fact>"))
			return
		}
		o.postEphemeral(ctx, cmd, chat.NewMessage("Saving that…"))
		o.runCreateKnowledge(ctx, cmd)

	case "create-doc":
		if err := o.surface.OpenModal(ctx, cmd.TriggerID, chat.CreateDocModal("")); err != nil {
			o.logger.Error("failed to open create-doc modal", "error", err)
		}

	case "ingest-doc":
		rawURL := strings.TrimSpace(cmd.Text)
		if rawURL == "" {
			o.postEphemeral(ctx, cmd, chat.NewMessage("Usage: ingest-doc <url>"))
			return
		}
		o.postEphemeral(ctx, cmd, chat.NewMessage(fmt.Sprintf("Processing %s…", rawURL)))
		o.runIngestURL(ctx, cmd, rawURL)

	default:
		o.postEphemeral(ctx, cmd, chat.NewMessage(fmt.Sprintf("Unknown command %q. Try help.", cmd.Name)))
	}
}

func (o *Orchestrator) runCreateKnowledge(ctx context.Context, cmd *chat.Command) {
	if o.ingestor == nil {
		return
	}
	chunk, err := o.ingestor.IngestQuickFact(ctx, cmd.Text, cmd.UserID, "")
	if err != nil {
		o.postEphemeral(ctx, cmd, chat.NewMessage(fmt.Sprintf("Could not save that: %v", err)))
		return
	}
	note := chat.NewMessage(fmt.Sprintf("Saved %q to the knowledge base.", chunk.PageTitle))
	if _, err := o.surface.PostMessage(ctx, cmd.ChannelID, "", note); err != nil {
		o.logger.Warn("failed to post completion note", "error", err)
	}
}

func (o *Orchestrator) runIngestURL(ctx context.Context, cmd *chat.Command, rawURL string) {
	if o.ingestor == nil {
		return
	}
	if _, err := o.ingestor.IngestURL(ctx, rawURL, cmd.UserID); err != nil {
		o.postEphemeral(ctx, cmd, chat.NewMessage(fmt.Sprintf("Could not ingest document: %v", err)))
		return
	}
	o.postEphemeral(ctx, cmd, chat.NewMessage(fmt.Sprintf("Ingested %s.", rawURL)))
}

func (o *Orchestrator) postEphemeral(ctx context.Context, cmd *chat.Command, msg *chat.Message) {
	if err := o.surface.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, msg); err != nil {
		o.logger.Warn("failed to post ephemeral", "error", err)
	}
}

// latestResponseInThread finds the bot response a thread reply refers
// to. The thread root is the common case; otherwise fall back to the
// response stored for the thread.
func (o *Orchestrator) latestResponseInThread(ctx context.Context, channelID, threadTS string) *types.BotResponse {
	if threadTS == "" {
		return nil
	}
	resp, err := o.store.GetBotResponse(ctx, threadTS)
	if err == nil {
		return resp
	}
	if !errors.Is(err, analytics.ErrNotFound) {
		o.logger.Error("failed to look up thread response", "error", err)
	}
	return nil
}

func feedbackModal(ft types.FeedbackType, metadata string) *chat.Modal {
	switch ft {
	case types.FeedbackIncorrect:
		return chat.IncorrectFeedbackModal(metadata)
	case types.FeedbackOutdated:
		return chat.OutdatedFeedbackModal(metadata)
	default:
		return chat.ConfusingFeedbackModal(metadata)
	}
}

type feedbackFields struct {
	Comment    string
	Correction string
	Evidence   string
}

// feedbackDetail maps modal values onto the record fields shared by all
// three negative-feedback schemas.
func feedbackDetail(sub *chat.ModalSubmission) *feedbackFields {
	switch sub.CallbackID {
	case chat.CallbackIncorrectFeedback:
		return &feedbackFields{
			Comment:    sub.Values["what_incorrect"],
			Correction: sub.Values["correct_information"],
			Evidence:   sub.Values["evidence"],
		}
	case chat.CallbackOutdatedFeedback:
		return &feedbackFields{
			Comment:    sub.Values["what_outdated"],
			Correction: sub.Values["current_information"],
			Evidence:   sub.Values["when_changed"],
		}
	case chat.CallbackConfusingFeedback:
		return &feedbackFields{
			Comment:  sub.Values["clarification_needed"],
			Evidence: sub.Values["confusion_type"],
		}
	default:
		return nil
	}
}

func encodeFeedbackMetadata(ft types.FeedbackType, messageTS string) string {
	return string(ft) + "|" + messageTS
}

func decodeFeedbackMetadata(metadata string) (types.FeedbackType, string, error) {
	ftStr, ts, ok := strings.Cut(metadata, "|")
	if !ok {
		return "", "", fmt.Errorf("malformed feedback metadata %q", metadata)
	}
	ft := types.FeedbackType(ftStr)
	if !ft.Valid() {
		return "", "", fmt.Errorf("unknown feedback type %q", ftStr)
	}
	return ft, ts, nil
}
