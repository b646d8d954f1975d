// Package escalation routes negative feedback and content conflicts to
// the people who can fix them: the governance owner of the affected
// document when one exists, the admin channel otherwise.
package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lorehub/internal/analytics"
	"lorehub/internal/chat"
	"lorehub/internal/config"
	"lorehub/internal/logging"
	"lorehub/internal/monitoring"
	"lorehub/internal/storage"
	"lorehub/pkg/types"
)

var titleCaser = cases.Title(language.English)

const (
	reasonNoOwner       = "no owner assigned"
	reasonOwnerNotFound = "owner not found"
)

// Escalator delivers feedback and conflict notifications.
type Escalator struct {
	surface      chat.Surface
	graph        storage.GraphStore
	store        analytics.Store
	adminChannel string
	threshold    int
	window       time.Duration
	logger       logging.Logger
	metrics      *monitoring.Metrics
	now          func() time.Time
}

// New builds an escalator. adminChannel may be empty, in which case
// fallback notifications are logged and dropped.
func New(surface chat.Surface, graph storage.GraphStore, store analytics.Store, chatCfg config.ChatConfig, cfg config.EscalationConfig) *Escalator {
	threshold := cfg.AutoEscalateThreshold
	if threshold <= 0 {
		threshold = 3
	}
	windowHours := cfg.WindowHours
	if windowHours <= 0 {
		windowHours = 24
	}
	return &Escalator{
		surface:      surface,
		graph:        graph,
		store:        store,
		adminChannel: chatCfg.AdminChannel,
		threshold:    threshold,
		window:       time.Duration(windowHours) * time.Hour,
		logger:       logging.WithComponent("escalation"),
		now:          time.Now,
	}
}

// SetMetrics attaches the shared instruments. Nil disables recording.
func (e *Escalator) SetMetrics(m *monitoring.Metrics) {
	e.metrics = m
}

// EscalateFeedback notifies the owner of the first owned cited chunk
// about a negative feedback record, then checks the auto-escalation
// threshold for the record's chunk.
func (e *Escalator) EscalateFeedback(ctx context.Context, rec *types.FeedbackRecord, chunkIDs []string) error {
	if !rec.FeedbackType.IsNegative() {
		return nil
	}
	if len(chunkIDs) == 0 {
		chunkIDs = []string{rec.ChunkID}
	}

	owner, chunks, reason := e.findOwner(ctx, chunkIDs)
	msg := feedbackMessage(rec, chunks)

	if owner != "" {
		if err := e.sendDM(ctx, owner, msg); err != nil {
			e.logger.Warn("owner DM failed, falling back to admin channel",
				"owner", owner, "error", err)
			e.sendAdminFallback(ctx, msg, reasonOwnerNotFound)
		} else {
			e.metrics.RecordEscalation("owner")
		}
	} else {
		e.sendAdminFallback(ctx, msg, reason)
	}

	for _, id := range chunkIDs {
		if err := e.checkAutoEscalation(ctx, id); err != nil {
			e.logger.Error("auto-escalation check failed", "chunk_id", id, "error", err)
		}
	}
	return nil
}

// findOwner resolves cited chunks and returns the first governance
// owner, all resolved chunks, and the fallback reason when no owner
// exists.
func (e *Escalator) findOwner(ctx context.Context, chunkIDs []string) (string, []*types.Chunk, string) {
	var chunks []*types.Chunk
	owner := ""
	for _, id := range chunkIDs {
		chunk, err := e.graph.GetMetadata(ctx, id)
		if err != nil {
			e.logger.Warn("chunk lookup failed during escalation", "chunk_id", id, "error", err)
			continue
		}
		chunks = append(chunks, chunk)
		if owner == "" && chunk.Owner != "" {
			owner = chunk.Owner
		}
	}
	reason := reasonNoOwner
	if len(chunks) == 0 && len(chunkIDs) > 0 {
		reason = reasonOwnerNotFound
	}
	return owner, chunks, reason
}

// checkAutoEscalation raises one admin alert per chunk per window once
// recent negatives reach the threshold.
func (e *Escalator) checkAutoEscalation(ctx context.Context, chunkID string) error {
	count, err := e.store.CountRecentNegativeFeedback(ctx, chunkID, e.window)
	if err != nil {
		return fmt.Errorf("count negatives: %w", err)
	}
	if count < e.threshold {
		return nil
	}

	escalated, err := e.store.WasEscalated(ctx, chunkID, e.window)
	if err != nil {
		return fmt.Errorf("escalation lookup: %w", err)
	}
	if escalated {
		return nil
	}

	chunk, err := e.graph.GetMetadata(ctx, chunkID)
	title := chunkID
	if err == nil {
		title = chunk.PageTitle
	}

	msg := chat.NewMessage(fmt.Sprintf("⚠️ %q has received %d negative feedback reports in the last %s.", title, count, e.window)).
		AddSection(fmt.Sprintf("⚠️ *Repeated negative feedback*\n%q has received *%d* negative reports in the last %s. The content likely needs review.", title, count, e.window)).
		AddContext("chunk: " + chunkID)

	e.sendAdmin(ctx, msg)
	if err := e.store.MarkEscalated(ctx, chunkID, e.now().UTC()); err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	e.logger.Info("auto-escalated chunk", "chunk_id", chunkID, "negatives", count)
	return nil
}

// NotifyConflict sends a contradiction alert to the owner of chunk A,
// falling back to the admin channel. It satisfies
// lifecycle.ConflictNotifier.
func (e *Escalator) NotifyConflict(ctx context.Context, conflict *types.ContentConflict, a, b *types.Chunk) error {
	msg := conflictMessage(conflict, a, b)

	owner := a.Owner
	if owner == "" {
		owner = b.Owner
	}
	if owner != "" {
		if err := e.sendDM(ctx, owner, msg); err == nil {
			e.metrics.RecordEscalation("owner")
			return nil
		}
	}
	e.sendAdminFallback(ctx, msg, reasonNoOwner)
	return nil
}

// sendDM resolves the owner's email to a workspace user and DMs them.
func (e *Escalator) sendDM(ctx context.Context, ownerEmail string, msg *chat.Message) error {
	userID, err := e.surface.LookupUserByEmail(ctx, ownerEmail)
	if err != nil {
		return err
	}
	channelID, err := e.surface.OpenDM(ctx, userID)
	if err != nil {
		return err
	}
	_, err = e.surface.PostMessage(ctx, channelID, "", msg)
	return err
}

func (e *Escalator) sendAdminFallback(ctx context.Context, msg *chat.Message, reason string) {
	fallback := chat.NewMessage(msg.Text)
	fallback.AddSection(fmt.Sprintf("_Routed here: %s._", reason))
	fallback.Blocks = append(fallback.Blocks, msg.Blocks...)
	// Swap the owner buttons for the admin set.
	for i := range fallback.Blocks {
		if fallback.Blocks[i].Type == chat.BlockActions {
			fallback.Blocks[i].Buttons = adminButtons()
		}
	}
	e.sendAdmin(ctx, fallback)
}

func (e *Escalator) sendAdmin(ctx context.Context, msg *chat.Message) {
	if e.adminChannel == "" {
		e.logger.Warn("no admin channel configured, dropping notification", "text", msg.Text)
		return
	}
	if _, err := e.surface.PostMessage(ctx, e.adminChannel, "", msg); err != nil {
		e.logger.Error("failed to post admin notification", "error", err)
		return
	}
	e.metrics.RecordEscalation("admin")
}

func feedbackMessage(rec *types.FeedbackRecord, chunks []*types.Chunk) *chat.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "📣 *%s feedback* on content you own.\n", titleCaser.String(string(rec.FeedbackType)))
	if rec.Comment != "" {
		fmt.Fprintf(&b, "*Issue:* %s\n", rec.Comment)
	}
	if rec.SuggestedCorrection != "" {
		fmt.Fprintf(&b, "*Suggested correction:* %s\n", rec.SuggestedCorrection)
	}
	if rec.QueryContext != "" {
		fmt.Fprintf(&b, "*Question asked:* %s\n", rec.QueryContext)
	}
	if titles := affectedTitles(chunks); len(titles) > 0 {
		fmt.Fprintf(&b, "*Affected documents:* %s\n", strings.Join(titles, ", "))
	}

	msg := chat.NewMessage(fmt.Sprintf("%s feedback on content you own", rec.FeedbackType)).
		AddSection(b.String())
	if rec.ThreadRef != "" {
		msg.AddContext("thread: " + rec.ThreadRef)
	}
	msg.AddActions(
		chat.Button{ActionID: "escalation_view_thread", Value: rec.ThreadRef, Label: "View Thread"},
		chat.Button{ActionID: "escalation_acknowledge", Value: rec.ID, Label: "Acknowledge", Style: "primary"},
	)
	return msg
}

func conflictMessage(conflict *types.ContentConflict, a, b *types.Chunk) *chat.Message {
	body := fmt.Sprintf("⚔️ *Contradicting content detected* (confidence %.0f%%).\n*A:* %s\n*B:* %s\n*Model's read:* %s",
		conflict.ConfidenceScore*100, describeChunk(a), describeChunk(b), conflict.AIExplanation)

	return chat.NewMessage("Contradicting content detected").
		AddSection(body).
		AddContext("conflict: "+conflict.ID).
		AddActions(
			chat.Button{ActionID: "conflict_review", Value: conflict.ID, Label: "Review", Style: "primary"},
		)
}

func describeChunk(c *types.Chunk) string {
	if c.URL != "" {
		return fmt.Sprintf("<%s|%s>", c.URL, c.PageTitle)
	}
	return c.PageTitle
}

func affectedTitles(chunks []*types.Chunk) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, c := range chunks {
		if c.PageTitle == "" || seen[c.PageTitle] {
			continue
		}
		seen[c.PageTitle] = true
		titles = append(titles, c.PageTitle)
	}
	return titles
}

func adminButtons() []chat.Button {
	return []chat.Button{
		{ActionID: "escalation_view_thread", Label: "View Thread"},
		{ActionID: "escalation_resolve", Label: "Mark Resolved", Style: "primary"},
	}
}
