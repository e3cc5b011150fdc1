package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-talks/internal/domain"
	"ai-talks/internal/playback"
)

const (
	transcriptsDir = "transcripts"
	audioDir       = "audio"
	manifestFile   = "manifest.json"
)

// FileStore keeps one JSON document per conversation under
// <root>/transcripts and its clips under <root>/audio/<id>.
type FileStore struct {
	root    string
	baseURI string
	now     func() time.Time

	mu sync.Mutex
}

type FileOption func(*FileStore)

// WithClipBaseURI sets the URI prefix clip locations are built from.
func WithClipBaseURI(base string) FileOption {
	return func(s *FileStore) {
		if strings.TrimSpace(base) != "" {
			s.baseURI = base
		}
	}
}

func WithFileClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewFileStore(root string, opts ...FileOption) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("repository: storage dir must not be empty")
	}
	s := &FileStore{root: root, baseURI: defaultClipBaseURI, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{transcriptsDir, audioDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("repository: create %s dir: %w", dir, err)
		}
	}
	return s, nil
}

func (s *FileStore) transcriptPath(id string) string {
	return filepath.Join(s.root, transcriptsDir, id+".json")
}

func (s *FileStore) audioPath(id string) string {
	return filepath.Join(s.root, audioDir, id)
}

// Save writes the whole transcript, replacing any previous version.
func (s *FileStore) Save(_ context.Context, t domain.Transcript) error {
	if err := validateID(t.ConversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.transcriptPath(t.ConversationID), t); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, conversationID string) (domain.Transcript, error) {
	if err := validateID(conversationID); err != nil {
		return domain.Transcript{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(conversationID)
}

func (s *FileStore) loadLocked(id string) (domain.Transcript, error) {
	var t domain.Transcript
	if err := readJSON(s.transcriptPath(id), &t); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Transcript{}, ErrNotFound
		}
		return domain.Transcript{}, fmt.Errorf("repository: Load: %w", err)
	}
	return t, nil
}

func (s *FileStore) MarkShared(_ context.Context, conversationID string, sharedAt, expiresAt time.Time) error {
	if err := validateID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.loadLocked(conversationID)
	if err != nil {
		return err
	}
	t.Shared = true
	t.SharedAt = &sharedAt
	t.ExpiresAt = &expiresAt
	t.UpdatedAt = s.now()
	if err := writeJSON(s.transcriptPath(conversationID), t); err != nil {
		return fmt.Errorf("repository: MarkShared: %w", err)
	}
	return nil
}

// SaveClip writes the clip bytes and records them in the manifest. A clip
// already stored for the same turn is replaced.
func (s *FileStore) SaveClip(_ context.Context, conversationID string, turnIndex int, audio domain.Audio) (domain.AudioClip, error) {
	if err := validateID(conversationID); err != nil {
		return domain.AudioClip{}, err
	}
	if turnIndex < 0 {
		return domain.AudioClip{}, fmt.Errorf("repository: invalid turn index %d", turnIndex)
	}
	if len(audio.Data) == 0 {
		return domain.AudioClip{}, errors.New("repository: clip audio must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.audioPath(conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.AudioClip{}, fmt.Errorf("repository: SaveClip mkdir: %w", err)
	}
	file := clipFileName(turnIndex, audio.ContentType)
	if err := writeFile(filepath.Join(dir, file), audio.Data); err != nil {
		return domain.AudioClip{}, fmt.Errorf("repository: SaveClip write: %w", err)
	}

	clips, err := s.readManifestLocked(conversationID)
	if err != nil {
		return domain.AudioClip{}, err
	}
	clip := domain.AudioClip{
		TurnIndex:   turnIndex,
		File:        file,
		URI:         clipURI(s.baseURI, conversationID, file),
		ContentType: contentTypeFor(file),
	}
	kept := clips[:0]
	for _, c := range clips {
		if c.TurnIndex == turnIndex {
			if c.File != file {
				_ = os.Remove(filepath.Join(dir, c.File))
			}
			continue
		}
		kept = append(kept, c)
	}
	kept = append(kept, clip)
	sort.SliceStable(kept, func(a, b int) bool { return kept[a].TurnIndex < kept[b].TurnIndex })
	if err := writeJSON(filepath.Join(dir, manifestFile), kept); err != nil {
		return domain.AudioClip{}, fmt.Errorf("repository: SaveClip manifest: %w", err)
	}
	return clip, nil
}

// ListAudioManifest returns the clips of a conversation ordered by turn. An
// audio directory without a manifest is indexed from its filenames.
func (s *FileStore) ListAudioManifest(_ context.Context, conversationID string) ([]domain.AudioClip, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readManifestLocked(conversationID)
}

func (s *FileStore) readManifestLocked(id string) ([]domain.AudioClip, error) {
	dir := s.audioPath(id)
	var clips []domain.AudioClip
	err := readJSON(filepath.Join(dir, manifestFile), &clips)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		clips, err = s.scanClipsLocked(id)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("repository: read manifest: %w", err)
	}
	for i := range clips {
		clips[i].URI = clipURI(s.baseURI, id, clips[i].File)
		if clips[i].ContentType == "" {
			clips[i].ContentType = contentTypeFor(clips[i].File)
		}
	}
	sort.SliceStable(clips, func(a, b int) bool { return clips[a].TurnIndex < clips[b].TurnIndex })
	return clips, nil
}

func (s *FileStore) scanClipsLocked(id string) ([]domain.AudioClip, error) {
	entries, err := os.ReadDir(s.audioPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: scan clips: %w", err)
	}
	var clips []domain.AudioClip
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := playback.ParseClipIndex(e.Name())
		if !ok {
			continue
		}
		clips = append(clips, domain.AudioClip{TurnIndex: idx, File: e.Name()})
	}
	return clips, nil
}

func (s *FileStore) OpenClip(_ context.Context, conversationID, file string) (domain.Audio, error) {
	if err := validateID(conversationID); err != nil {
		return domain.Audio{}, err
	}
	if err := validateClipFile(file); err != nil {
		return domain.Audio{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.audioPath(conversationID), file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Audio{}, ErrNotFound
		}
		return domain.Audio{}, fmt.Errorf("repository: OpenClip: %w", err)
	}
	return domain.Audio{Data: data, ContentType: contentTypeFor(file)}, nil
}

// List returns every stored conversation, including audio directories whose
// transcript was never saved.
func (s *FileStore) List(_ context.Context) ([]domain.ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas := map[string]*domain.ConversationMeta{}
	entries, err := os.ReadDir(filepath.Join(s.root, transcriptsDir))
	if err != nil {
		return nil, fmt.Errorf("repository: List transcripts: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if !domain.ValidConversationID(id) {
			continue
		}
		meta := &domain.ConversationMeta{ConversationID: id, HasTranscript: true}
		var t domain.Transcript
		if err := readJSON(filepath.Join(s.root, transcriptsDir, name), &t); err == nil {
			meta.Shared = t.Shared
			meta.ExpiresAt = t.ExpiresAt
			meta.UpdatedAt = t.UpdatedAt
		}
		if meta.UpdatedAt.IsZero() {
			meta.UpdatedAt = modTime(e)
		}
		metas[id] = meta
	}

	dirs, err := os.ReadDir(filepath.Join(s.root, audioDir))
	if err != nil {
		return nil, fmt.Errorf("repository: List audio: %w", err)
	}
	for _, d := range dirs {
		if !d.IsDir() || !domain.ValidConversationID(d.Name()) {
			continue
		}
		if _, ok := metas[d.Name()]; ok {
			continue
		}
		metas[d.Name()] = &domain.ConversationMeta{ConversationID: d.Name(), UpdatedAt: modTime(d)}
	}

	out := make([]domain.ConversationMeta, 0, len(metas))
	for _, m := range metas {
		out = append(out, *m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ConversationID < out[b].ConversationID })
	return out, nil
}

// Delete removes the transcript and the clips. Missing pieces are ignored.
func (s *FileStore) Delete(_ context.Context, conversationID string) error {
	if err := validateID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.transcriptPath(conversationID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("repository: Delete transcript: %w", err)
	}
	if err := os.RemoveAll(s.audioPath(conversationID)); err != nil {
		return fmt.Errorf("repository: Delete audio: %w", err)
	}
	return nil
}

func modTime(e fs.DirEntry) time.Time {
	info, err := e.Info()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile replaces path atomically through a temp file in the same dir.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
