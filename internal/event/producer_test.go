package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/logger"
)

type fakeRepo struct {
	appended []Event
	nextID   int64
	err      error
}

func (r *fakeRepo) Append(ctx context.Context, e *Event) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.nextID++
	e.ID = r.nextID
	r.appended = append(r.appended, *e)
	return r.nextID, nil
}

func (r *fakeRepo) Query(ctx context.Context, q Query) ([]Event, error) { return nil, nil }
func (r *fakeRepo) DeleteExpired(ctx context.Context, batchSize int) (int64, error) {
	return 0, nil
}
func (r *fakeRepo) Compact(ctx context.Context) error { return nil }

type recordingFastPath struct {
	published []struct {
		Scope   Scope
		EventID int64
	}
}

func (f *recordingFastPath) Publish(ctx context.Context, scope Scope, eventID int64) {
	f.published = append(f.published, struct {
		Scope   Scope
		EventID int64
	}{scope, eventID})
}

func (f *recordingFastPath) Peek(ctx context.Context, scope Scope) int64 { return 0 }

func TestProducerMessageCreated(t *testing.T) {
	repo := &fakeRepo{}
	fp := &recordingFastPath{}
	p := NewProducer(repo, fp, 24*time.Hour, logger.NopLogger())

	id, err := p.OnMessageCreated(context.Background(), 101, 7, 42, MessageCreatedPayload{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.Len(t, repo.appended, 1)
	e := repo.appended[0]
	assert.Equal(t, TypeMessageCreate, e.Type)
	assert.Equal(t, PriorityNormal, e.Priority)
	assert.Equal(t, int64(7), e.ChannelID)
	assert.Equal(t, int64(101), e.MessageID)
	assert.Equal(t, int64(42), e.ActorUserID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), e.ExpiresAt, time.Minute)

	var payload MessageCreatedPayload
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	assert.Equal(t, "hello", payload.Body)

	// The recency hint lands after the append, carrying the new id.
	require.Len(t, fp.published, 1)
	assert.Equal(t, int64(1), fp.published[0].EventID)
	assert.Equal(t, int64(7), fp.published[0].Scope.ChannelID)
}

func TestProducerDeletePriority(t *testing.T) {
	repo := &fakeRepo{}
	p := NewProducer(repo, nil, time.Hour, logger.NopLogger())

	_, err := p.OnMessageDeleted(context.Background(), 101, 7)
	require.NoError(t, err)
	require.Len(t, repo.appended, 1)
	assert.Equal(t, PriorityHigh, repo.appended[0].Priority)
}

func TestProducerThreadEventsCarryThreadScope(t *testing.T) {
	repo := &fakeRepo{}
	fp := &recordingFastPath{}
	p := NewProducer(repo, fp, time.Hour, logger.NopLogger())

	_, err := p.OnThreadMessageCreated(context.Background(), 101, 55, 7, 42, ThreadCreatedPayload{Body: "reply"})
	require.NoError(t, err)

	require.Len(t, repo.appended, 1)
	assert.Equal(t, int64(55), repo.appended[0].ThreadID)
	require.Len(t, fp.published, 1)
	assert.Equal(t, int64(55), fp.published[0].Scope.ThreadID)
}

func TestProducerAppendFailureIsReturnedNotRetried(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	fp := &recordingFastPath{}
	p := NewProducer(repo, fp, time.Hour, logger.NopLogger())

	_, err := p.OnReactionUpdated(context.Background(), 101, 7, map[string][]int64{"👍": {42}}, 42)
	assert.Error(t, err)
	assert.Empty(t, repo.appended)
	// No hint without a committed row.
	assert.Empty(t, fp.published)
}
