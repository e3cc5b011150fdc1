// Package playback plays a conversation's speech clips back to back and keeps
// the transcript entry of the sounding clip marked.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ai-talks/internal/domain"
)

const defaultFailSafe = 60 * time.Second

// ErrNoAudio is returned by TogglePlay when the conversation has no clips.
var ErrNoAudio = errors.New("playback: no audio available")

// ManifestLoader returns the stored clips of a conversation. An empty result
// is not an error.
type ManifestLoader interface {
	ListAudioManifest(ctx context.Context, conversationID string) ([]domain.AudioClip, error)
}

// Player plays one clip at a time. The channel returned by Play receives
// exactly one value: nil when the clip finished, an error when it failed.
type Player interface {
	Play(clip domain.AudioClip) <-chan error
	Pause()
}

// Highlighter marks transcript entries by turn index.
type Highlighter interface {
	Highlight(turnIndex int)
	ClearHighlight()
}

// Status is a point-in-time view of the playback cursor.
type Status struct {
	Playing bool
	Index   int
	// Highlighted is the marked turn index, -1 when nothing is marked.
	Highlighted int
	Loaded      bool
	Clips       int
}

type Option func(*Synchronizer)

// WithFailSafe bounds how long a clip may play before playback moves on.
func WithFailSafe(d time.Duration) Option {
	return func(s *Synchronizer) { s.failSafe = d }
}

// WithOnStop registers fn to run whenever playback stops.
func WithOnStop(fn func()) Option {
	return func(s *Synchronizer) { s.onStop = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.log = l
		}
	}
}

// Synchronizer owns the playback cursor and is the only writer of
// highlight marks.
type Synchronizer struct {
	conversationID string
	loader         ManifestLoader
	player         Player
	marks          Highlighter
	turns          map[int]bool
	failSafe       time.Duration
	onStop         func()
	log            *slog.Logger

	mu          sync.Mutex
	clips       []domain.AudioClip
	loaded      bool
	playing     bool
	index       int
	highlighted int
	cancelPlay  chan struct{}
}

// New creates a Synchronizer for one transcript. turnIndexes lists the Turn
// indexes present in the rendered transcript.
func New(conversationID string, turnIndexes []int, loader ManifestLoader, player Player, marks Highlighter, opts ...Option) (*Synchronizer, error) {
	if loader == nil {
		return nil, errors.New("playback: manifest loader must not be nil")
	}
	if player == nil {
		return nil, errors.New("playback: player must not be nil")
	}
	if marks == nil {
		return nil, errors.New("playback: highlighter must not be nil")
	}
	turns := make(map[int]bool, len(turnIndexes))
	for _, i := range turnIndexes {
		turns[i] = true
	}
	s := &Synchronizer{
		conversationID: conversationID,
		loader:         loader,
		player:         player,
		marks:          marks,
		turns:          turns,
		failSafe:       defaultFailSafe,
		log:            slog.Default(),
		highlighted:    -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadManifest fetches the clip list, ordered by turn index with at most one
// clip per turn.
func (s *Synchronizer) LoadManifest(ctx context.Context) ([]domain.AudioClip, error) {
	clips, err := s.loader.ListAudioManifest(ctx, s.conversationID)
	if err != nil {
		return nil, fmt.Errorf("playback: load manifest: %w", err)
	}
	ordered := normalize(clips)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = ordered
	s.loaded = true
	return append([]domain.AudioClip(nil), ordered...), nil
}

// TogglePlay stops playback when playing, otherwise starts from the first
// clip. It reports whether playback is running afterwards.
func (s *Synchronizer) TogglePlay(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.playing {
		s.stopLocked()
		s.mu.Unlock()
		s.stopped()
		return false, nil
	}
	loaded := s.loaded
	s.mu.Unlock()

	if !loaded {
		if _, err := s.LoadManifest(ctx); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return true, nil
	}
	if len(s.clips) == 0 {
		return false, ErrNoAudio
	}
	s.playing = true
	s.playLocked(0)
	return true, nil
}

// Stop halts playback. Calling it while stopped does nothing.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.mu.Unlock()
	s.stopped()
}

func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Playing:     s.playing,
		Index:       s.index,
		Highlighted: s.highlighted,
		Loaded:      s.loaded,
		Clips:       len(s.clips),
	}
}

func (s *Synchronizer) playLocked(i int) {
	s.index = i
	clip := s.clips[i]

	s.marks.ClearHighlight()
	s.highlighted = -1
	if s.turns[clip.TurnIndex] {
		s.marks.Highlight(clip.TurnIndex)
		s.highlighted = clip.TurnIndex
	}

	if s.cancelPlay != nil {
		close(s.cancelPlay)
	}
	cancel := make(chan struct{})
	s.cancelPlay = cancel
	done := s.player.Play(clip)
	go s.await(i, done, cancel)
}

func (s *Synchronizer) stopLocked() {
	s.playing = false
	if s.cancelPlay != nil {
		close(s.cancelPlay)
		s.cancelPlay = nil
	}
	s.player.Pause()
	s.marks.ClearHighlight()
	s.highlighted = -1
	s.index = 0
}

func (s *Synchronizer) stopped() {
	if s.onStop != nil {
		s.onStop()
	}
}

// await waits for clip i to settle, then advances. A failed clip advances
// the same way a finished one does.
func (s *Synchronizer) await(i int, done <-chan error, cancel <-chan struct{}) {
	var timeout <-chan time.Time
	if s.failSafe > 0 {
		t := time.NewTimer(s.failSafe)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("clip playback failed", "conversation_id", s.conversationID, "clip", i, "err", err)
		}
	case <-timeout:
		s.log.Warn("clip playback timed out", "conversation_id", s.conversationID, "clip", i)
	case <-cancel:
		return
	}

	s.mu.Lock()
	select {
	case <-cancel:
		s.mu.Unlock()
		return
	default:
	}
	if i+1 < len(s.clips) {
		s.playLocked(i + 1)
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.mu.Unlock()
	s.stopped()
}

func normalize(clips []domain.AudioClip) []domain.AudioClip {
	out := make([]domain.AudioClip, 0, len(clips))
	seen := make(map[int]bool, len(clips))
	for _, c := range clips {
		if seen[c.TurnIndex] {
			continue
		}
		seen[c.TurnIndex] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].TurnIndex < out[b].TurnIndex })
	return out
}
