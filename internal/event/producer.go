package event

import (
	"context"
	"fmt"
	"time"

	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/pkg/metrics"
)

// Producer builds and appends events on behalf of the chat mutation
// operations. Hooks run after the mutation's own commit; an append
// failure is reported back and logged but never retried and never
// undoes the mutation. Clients recover missed notifications through a
// normal refresh.
type Producer struct {
	repo      Repository
	fastPath  FastPath
	retention time.Duration
	logger    logger.Logger
}

func NewProducer(repo Repository, fastPath FastPath, retention time.Duration, log logger.Logger) *Producer {
	if fastPath == nil {
		fastPath = NopFastPath{}
	}
	return &Producer{
		repo:      repo,
		fastPath:  fastPath,
		retention: retention,
		logger:    log,
	}
}

func (p *Producer) OnMessageCreated(ctx context.Context, messageID, channelID, userID int64, payload MessageCreatedPayload) (int64, error) {
	return p.emit(ctx, &Event{
		Type:        TypeMessageCreate,
		ChannelID:   channelID,
		MessageID:   messageID,
		ActorUserID: userID,
	}, payload)
}

func (p *Producer) OnMessageDeleted(ctx context.Context, messageID, channelID int64) (int64, error) {
	return p.emit(ctx, &Event{
		Type:      TypeMessageDelete,
		ChannelID: channelID,
		MessageID: messageID,
	}, MessageDeletedPayload{DeletedAt: time.Now().UTC()})
}

func (p *Producer) OnDateSeparatorDeleted(ctx context.Context, channelID int64, date string) (int64, error) {
	return p.emit(ctx, &Event{
		Type:      TypeDateSeparatorDelete,
		ChannelID: channelID,
	}, DateSeparatorDeletedPayload{Date: date})
}

func (p *Producer) OnReactionUpdated(ctx context.Context, messageID, channelID int64, reactions map[string][]int64, userID int64) (int64, error) {
	return p.emit(ctx, &Event{
		Type:        TypeReactionUpdate,
		ChannelID:   channelID,
		MessageID:   messageID,
		ActorUserID: userID,
	}, ReactionUpdatedPayload{Reactions: reactions})
}

func (p *Producer) OnThreadMessageCreated(ctx context.Context, messageID, threadID, channelID, userID int64, payload ThreadCreatedPayload) (int64, error) {
	return p.emit(ctx, &Event{
		Type:        TypeThreadCreate,
		ChannelID:   channelID,
		ThreadID:    threadID,
		MessageID:   messageID,
		ActorUserID: userID,
	}, payload)
}

func (p *Producer) OnThreadMessageDeleted(ctx context.Context, messageID, threadID, channelID int64) (int64, error) {
	return p.emit(ctx, &Event{
		Type:      TypeThreadDelete,
		ChannelID: channelID,
		ThreadID:  threadID,
		MessageID: messageID,
	}, ThreadDeletedPayload{DeletedAt: time.Now().UTC()})
}

func (p *Producer) OnThreadReactionUpdated(ctx context.Context, messageID, channelID, threadID int64, reactions map[string][]int64) (int64, error) {
	return p.emit(ctx, &Event{
		Type:      TypeThreadReactionUpdate,
		ChannelID: channelID,
		ThreadID:  threadID,
		MessageID: messageID,
	}, ThreadReactionUpdatedPayload{Reactions: reactions})
}

func (p *Producer) OnThreadSummaryUpdated(ctx context.Context, threadID, channelID int64, payload ThreadSummaryUpdatedPayload) (int64, error) {
	return p.emit(ctx, &Event{
		Type:      TypeThreadSummaryUpdate,
		ChannelID: channelID,
		ThreadID:  threadID,
	}, payload)
}

func (p *Producer) emit(ctx context.Context, e *Event, payload interface{}) (int64, error) {
	data, err := encodePayload(payload)
	if err != nil {
		metrics.EventsAppendedTotal.WithLabelValues(string(e.Type), "error").Inc()
		return 0, fmt.Errorf("failed to encode payload for %s: %w", e.Type, err)
	}

	now := time.Now().UTC()
	e.Priority = defaultPriority(e.Type)
	e.Payload = data
	e.CreatedAt = now
	e.ExpiresAt = now.Add(p.retention)

	id, err := p.repo.Append(ctx, e)
	if err != nil {
		metrics.EventsAppendedTotal.WithLabelValues(string(e.Type), "error").Inc()
		p.logger.ErrorwCtx(ctx, "Event append failed",
			"event_type", e.Type,
			"channel_id", e.ChannelID,
			"message_id", e.MessageID,
			"error", err,
		)
		return 0, err
	}

	metrics.EventsAppendedTotal.WithLabelValues(string(e.Type), "ok").Inc()

	// Cache write happens strictly after the store commit so the hint
	// can never point ahead of durable data.
	p.fastPath.Publish(ctx, Scope{ChannelID: e.ChannelID, ThreadID: e.ThreadID}, id)

	return id, nil
}
