package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"persona/internal/domain"
	"persona/internal/memory"
	"persona/internal/metrics"
)

// HandleMessage is the transport message listener. Admission runs on the
// caller's goroutine so decisions follow arrival order; the reply itself is
// queued on the task group.
func (a *Agent) HandleMessage(ev domain.InboundEvent) {
	a.metrics.EventsReceived.Inc()
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	if !a.activator.Accepts(context.Background(), ev) {
		return
	}
	a.metrics.EventsAdmitted.Inc()
	a.logger.Debug("event admitted", "event_id", ev.ID, "context_id", ev.ContextID, "seq", seq)
	a.tasks.Go("reply "+ev.ID, func(ctx context.Context) error {
		return a.reply(ctx, ev, false)
	})
}

// HandleReaction is the transport reaction listener.
func (a *Agent) HandleReaction(r domain.Reaction) {
	before := a.feedback.State(r.MessageID)
	state, err := a.feedback.HandleReaction(context.Background(), r)
	if err != nil {
		a.logger.Error("feedback failed", "message_id", r.MessageID, "err", err)
		return
	}
	if state == memory.StateRecorded && before != memory.StateRecorded {
		a.metrics.FeedbackRecorded.Inc()
	}
	a.logger.Debug("reaction handled", "message_id", r.MessageID, "state", state.String())
}

// Reply posts a placeholder for ev, generates the reply and edits it in.
// A generation failure leaves the placeholder untouched.
func (a *Agent) Reply(ctx context.Context, ev domain.InboundEvent) error {
	return a.reply(ctx, ev, false)
}

func (a *Agent) reply(ctx context.Context, ev domain.InboundEvent, self bool) error {
	start := time.Now()
	if !ev.ContextKind.Replyable() {
		a.metrics.ReplyFailed(metrics.StagePlaceholder)
		return fmt.Errorf("reply to %s in %s context: %w", ev.ID, ev.ContextKind, domain.ErrUnsupportedContext)
	}
	h, err := a.transport.SendLoading(ctx, ev.ContextID, a.cfg.LoadingMessage)
	if err != nil {
		a.metrics.ReplyFailed(metrics.StagePlaceholder)
		return fmt.Errorf("placeholder for %s: %w", ev.ID, err)
	}

	gc, err := a.generationContext(ctx, ev)
	if err != nil {
		a.metrics.ReplyFailed(metrics.StagePersist)
		return err
	}
	// A self-reply answers a message that is already stored as the agent's.
	if !self {
		user := domain.InternalMessage{
			ID:        ev.ID,
			ReplyTo:   ev.ReplyToID,
			ContextID: ev.ContextID,
			Role:      domain.RoleUser,
			Author:    ev.AuthorName,
			Content:   ev.Content,
			CreatedAt: ev.Timestamp,
		}
		if err := a.interactions.Put(ctx, ev.ID, user); err != nil {
			a.metrics.ReplyFailed(metrics.StagePersist)
			return fmt.Errorf("store message %s: %w", ev.ID, err)
		}
	}
	gc, err = a.pre.Apply(ctx, gc)
	if err != nil {
		a.metrics.ReplyFailed(metrics.StageTransform)
		return fmt.Errorf("reply to %s: %w", ev.ID, err)
	}

	genStart := time.Now()
	msg, err := a.generator.Generate(ctx, gc)
	a.metrics.GenerationLatency.Since(genStart)
	if err != nil {
		a.metrics.ReplyFailed(metrics.StageGenerate)
		return fmt.Errorf("reply to %s: %w", ev.ID, err)
	}

	r, err := a.post.Apply(ctx, domain.Reply{Content: msg.Content, Footer: msg.Footer})
	if err != nil {
		a.metrics.ReplyFailed(metrics.StageTransform)
		return fmt.Errorf("reply to %s: %w", ev.ID, err)
	}
	out := a.formatter.Format(r)

	if !h.Editable {
		a.logger.Debug("placeholder not editable, reply dropped", "event_id", ev.ID)
		return nil
	}

	// The reply is stored under the placeholder id before the edit lands so
	// a confirmation can never arrive ahead of the record.
	stored := domain.InternalMessage{
		ID:        h.MessageID,
		ReplyTo:   ev.ID,
		ContextID: ev.ContextID,
		Role:      domain.RoleAgent,
		Author:    a.name,
		Content:   out.Text(),
		Footer:    r.Footer,
		CreatedAt: time.Now(),
	}
	if err := a.interactions.Put(ctx, h.MessageID, stored); err != nil {
		a.metrics.ReplyFailed(metrics.StagePersist)
		return fmt.Errorf("store reply %s: %w", h.MessageID, err)
	}

	if err := a.transport.Edit(ctx, h, out); err != nil {
		if errors.Is(err, domain.ErrNotEditable) {
			a.logger.Debug("placeholder gone, reply dropped", "event_id", ev.ID, "message_id", h.MessageID)
			return nil
		}
		a.metrics.ReplyFailed(metrics.StageDeliver)
		return fmt.Errorf("deliver reply to %s: %w", ev.ID, err)
	}
	a.metrics.RepliesDelivered.Inc()
	a.metrics.ReplyLatency.Since(start)
	a.feedback.MarkAwaiting(h.MessageID)
	a.logger.Info("reply delivered", "event_id", ev.ID, "message_id", h.MessageID, "took", time.Since(start).Round(time.Millisecond))

	if !self {
		a.maybeSelfReply(ev, stored)
	}
	return nil
}

func (a *Agent) generationContext(ctx context.Context, ev domain.InboundEvent) (domain.GenerationContext, error) {
	history, err := a.interactions.Recent(ctx, ev.ContextID, a.cfg.HistoryWindow)
	if err != nil {
		return domain.GenerationContext{}, fmt.Errorf("history for %s: %w", ev.ContextID, err)
	}
	var snippets []domain.Snippet
	if docs := a.collection.Documents(); len(docs) > 0 && ev.Content != "" {
		snippets, err = a.currentRanker().Rank(ctx, ev.Content, docs, a.cfg.KnowledgeTopK)
		if err != nil {
			a.logger.Warn("knowledge ranking failed", "event_id", ev.ID, "err", err)
			snippets = nil
		}
	}
	return domain.GenerationContext{
		AgentName: a.name,
		Preamble:  a.cfg.Preamble,
		Event:     ev,
		History:   history,
		Examples:  a.examples.All(),
		Knowledge: snippets,
		Abilities: a.abilities.Definitions(),
	}, nil
}

// maybeSelfReply schedules a reply to the agent's own message. It skips
// admission, which would reject the agent's own events. Self-replies do not
// chain.
func (a *Agent) maybeSelfReply(ev domain.InboundEvent, stored domain.InternalMessage) {
	if a.cfg.SelfReplyChance <= 0 || a.cfg.Roll() >= a.cfg.SelfReplyChance {
		return
	}
	self := a.transport.Self()
	next := domain.InboundEvent{
		ID:          stored.ID,
		AuthorID:    self.ID,
		AuthorName:  a.name,
		AuthorIsBot: true,
		Content:     stored.Content,
		ContextID:   ev.ContextID,
		ContextKind: ev.ContextKind,
		ReplyToID:   ev.ID,
		Timestamp:   stored.CreatedAt,
	}
	a.logger.Debug("self-reply scheduled", "message_id", stored.ID, "delay", a.cfg.SelfReplyDelay)
	time.AfterFunc(a.cfg.SelfReplyDelay, func() {
		a.tasks.Go("self-reply "+stored.ID, func(ctx context.Context) error {
			return a.reply(ctx, next, true)
		})
	})
}
