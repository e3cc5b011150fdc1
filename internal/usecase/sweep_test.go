package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-talks/internal/domain"
)

func TestSweep(t *testing.T) {
	setNow(t, fixedNow)
	past := fixedNow.Add(-time.Minute)
	exact := fixedNow
	future := fixedNow.Add(time.Hour)

	store := newMockStore()
	store.metas = []domain.ConversationMeta{
		{ConversationID: "share-expired", Shared: true, ExpiresAt: &past, HasTranscript: true},
		{ConversationID: "share-edge", Shared: true, ExpiresAt: &exact, HasTranscript: true},
		{ConversationID: "share-live", Shared: true, ExpiresAt: &future, HasTranscript: true},
		{ConversationID: "share-forever", Shared: true, HasTranscript: true},
		{ConversationID: "draft-old", UpdatedAt: fixedNow.Add(-25 * time.Hour), HasTranscript: true},
		{ConversationID: "draft-new", UpdatedAt: fixedNow.Add(-time.Hour), HasTranscript: true},
		{ConversationID: "orphan-old", UpdatedAt: fixedNow.Add(-48 * time.Hour)},
		{ConversationID: "broken", UpdatedAt: fixedNow.Add(-48 * time.Hour)},
	}
	store.deleteErr["broken"] = errors.New("permission denied")

	svc, err := NewSweepService(store, 24*time.Hour)
	require.NoError(t, err)
	res, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Removed: 4, Kept: 3, Failed: 1}, res)
	require.Equal(t, []string{"share-expired", "share-edge", "draft-old", "orphan-old"}, store.deleted)
}

func TestSweep_ListError(t *testing.T) {
	store := newMockStore()
	store.listErr = errors.New("scan failed")
	svc, err := NewSweepService(store, 0)
	require.NoError(t, err)
	require.Equal(t, defaultRetention, svc.retention)

	_, err = svc.Sweep(context.Background())
	requireCode(t, err, ErrorInternal, "storage_error")
}

func TestSweep_StopsOnCancel(t *testing.T) {
	store := newMockStore()
	store.metas = []domain.ConversationMeta{{ConversationID: "a"}}
	svc, err := NewSweepService(store, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, store.deleted)

	_, err = NewSweepService(nil, time.Hour)
	require.Error(t, err)
}
