package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-talks/internal/domain"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewFileStore(root, WithFileClock(func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
	require.NoError(t, err)
	return s, root
}

func sampleTranscript(id string) domain.Transcript {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Transcript{
		ConversationID: id,
		Settings: domain.Settings{
			Direction: domain.DirectionAToB,
			AgentA:    domain.AgentConfig{Name: "Ada", Model: "model-a"},
			AgentB:    domain.AgentConfig{Name: "Bob", Model: "model-b"},
		},
		Turns: []domain.Turn{
			{Index: 0, SpeakerID: domain.SpeakerAgentA, Text: "Topic?", Timestamp: ts},
			{Index: 1, SpeakerID: domain.SpeakerAgentB, Text: "Rivers.", ModelID: "model-b", Timestamp: ts},
		},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore(" ")
	require.Error(t, err)
}

func TestFileStore_SaveLoad(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()
	in := sampleTranscript("conv_1")

	require.NoError(t, s.Save(ctx, in))
	got, err := s.Load(ctx, "conv_1")
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestFileStore_LoadMissing(t *testing.T) {
	s, _ := newTestFileStore(t)
	_, err := s.Load(context.Background(), "conv_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsUnsafeIDs(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()
	for _, id := range []string{"", "../etc", "a/b", "conv-1"} {
		require.Error(t, s.Save(ctx, domain.Transcript{ConversationID: id}), id)
		_, err := s.Load(ctx, id)
		require.Error(t, err, id)
	}
}

func TestFileStore_MarkShared(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleTranscript("conv_1")))

	sharedAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	expiresAt := sharedAt.Add(30 * 24 * time.Hour)
	require.NoError(t, s.MarkShared(ctx, "conv_1", sharedAt, expiresAt))

	got, err := s.Load(ctx, "conv_1")
	require.NoError(t, err)
	require.True(t, got.Shared)
	require.True(t, got.SharedAt.Equal(sharedAt))
	require.True(t, got.ExpiresAt.Equal(expiresAt))
	require.Len(t, got.Turns, 2)

	require.ErrorIs(t, s.MarkShared(ctx, "conv_missing", sharedAt, expiresAt), ErrNotFound)
}

func TestFileStore_ClipsAndManifest(t *testing.T) {
	s, root := newTestFileStore(t)
	ctx := context.Background()

	clips, err := s.ListAudioManifest(ctx, "conv_1")
	require.NoError(t, err)
	require.Empty(t, clips)

	c3, err := s.SaveClip(ctx, "conv_1", 3, domain.Audio{Data: []byte("three"), ContentType: "audio/wav"})
	require.NoError(t, err)
	require.Equal(t, "message_3.wav", c3.File)
	require.Equal(t, "/api/v1/conversations/conv_1/audio/message_3.wav", c3.URI)
	_, err = s.SaveClip(ctx, "conv_1", 1, domain.Audio{Data: []byte("one"), ContentType: "audio/mpeg"})
	require.NoError(t, err)

	clips, err = s.ListAudioManifest(ctx, "conv_1")
	require.NoError(t, err)
	require.Len(t, clips, 2)
	require.Equal(t, 1, clips[0].TurnIndex)
	require.Equal(t, "message_1.mp3", clips[0].File)
	require.Equal(t, "audio/mpeg", clips[0].ContentType)
	require.Equal(t, 3, clips[1].TurnIndex)

	audio, err := s.OpenClip(ctx, "conv_1", "message_3.wav")
	require.NoError(t, err)
	require.Equal(t, []byte("three"), audio.Data)
	require.Equal(t, "audio/wav", audio.ContentType)

	require.FileExists(t, filepath.Join(root, audioDir, "conv_1", manifestFile))
}

func TestFileStore_SaveClipReplacesSameTurn(t *testing.T) {
	s, root := newTestFileStore(t)
	ctx := context.Background()

	_, err := s.SaveClip(ctx, "conv_1", 2, domain.Audio{Data: []byte("old"), ContentType: "audio/wav"})
	require.NoError(t, err)
	_, err = s.SaveClip(ctx, "conv_1", 2, domain.Audio{Data: []byte("new"), ContentType: "audio/mpeg"})
	require.NoError(t, err)

	clips, err := s.ListAudioManifest(ctx, "conv_1")
	require.NoError(t, err)
	require.Len(t, clips, 1)
	require.Equal(t, "message_2.mp3", clips[0].File)
	require.NoFileExists(t, filepath.Join(root, audioDir, "conv_1", "message_2.wav"))
}

func TestFileStore_SaveClipValidation(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()
	_, err := s.SaveClip(ctx, "conv_1", -1, domain.Audio{Data: []byte("x")})
	require.Error(t, err)
	_, err = s.SaveClip(ctx, "conv_1", 0, domain.Audio{})
	require.Error(t, err)
}

func TestFileStore_LegacyClipsWithoutManifest(t *testing.T) {
	s, root := newTestFileStore(t)
	dir := filepath.Join(root, audioDir, "conv_old")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"message_2.mp3", "agent_a_0.wav", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	clips, err := s.ListAudioManifest(context.Background(), "conv_old")
	require.NoError(t, err)
	require.Len(t, clips, 2)
	require.Equal(t, 0, clips[0].TurnIndex)
	require.Equal(t, "agent_a_0.wav", clips[0].File)
	require.Equal(t, 2, clips[1].TurnIndex)
	require.Equal(t, "audio/mpeg", clips[1].ContentType)
}

func TestFileStore_OpenClipRejectsTraversal(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()
	for _, file := range []string{"../conv_2/message_0.wav", "manifest.json", ".hidden", ""} {
		_, err := s.OpenClip(ctx, "conv_1", file)
		require.Error(t, err, file)
	}
	_, err := s.OpenClip(ctx, "conv_1", "message_9.wav")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_ListAndDelete(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleTranscript("conv_1")))
	shared := sampleTranscript("conv_2")
	exp := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	shared.Shared = true
	shared.ExpiresAt = &exp
	require.NoError(t, s.Save(ctx, shared))
	_, err := s.SaveClip(ctx, "conv_1", 0, domain.Audio{Data: []byte("a"), ContentType: "audio/wav"})
	require.NoError(t, err)
	_, err = s.SaveClip(ctx, "conv_orphan", 0, domain.Audio{Data: []byte("b"), ContentType: "audio/wav"})
	require.NoError(t, err)

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	require.Equal(t, "conv_1", metas[0].ConversationID)
	require.True(t, metas[0].HasTranscript)
	require.False(t, metas[0].Shared)
	require.Equal(t, "conv_2", metas[1].ConversationID)
	require.True(t, metas[1].Shared)
	require.True(t, metas[1].ExpiresAt.Equal(exp))
	require.Equal(t, "conv_orphan", metas[2].ConversationID)
	require.False(t, metas[2].HasTranscript)
	require.False(t, metas[2].UpdatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "conv_1"))
	require.NoError(t, s.Delete(ctx, "conv_orphan"))
	require.NoError(t, s.Delete(ctx, "conv_never"))

	metas, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, "conv_2", metas[0].ConversationID)
	_, err = s.Load(ctx, "conv_1")
	require.ErrorIs(t, err, ErrNotFound)
}
