// Package repository persists conversation transcripts and their speech
// clips. Two backends share one contract: a flat-file JSON store and a
// DynamoDB table.
package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ai-talks/internal/domain"
)

// ErrNotFound is returned when a conversation has no stored transcript.
var ErrNotFound = errors.New("repository: conversation not found")

const defaultClipBaseURI = "/api/v1/conversations"

// Store is the full conversation store contract.
type Store interface {
	Save(ctx context.Context, t domain.Transcript) error
	Load(ctx context.Context, conversationID string) (domain.Transcript, error)
	MarkShared(ctx context.Context, conversationID string, sharedAt, expiresAt time.Time) error
	SaveClip(ctx context.Context, conversationID string, turnIndex int, audio domain.Audio) (domain.AudioClip, error)
	ListAudioManifest(ctx context.Context, conversationID string) ([]domain.AudioClip, error)
	OpenClip(ctx context.Context, conversationID, file string) (domain.Audio, error)
	List(ctx context.Context) ([]domain.ConversationMeta, error)
	Delete(ctx context.Context, conversationID string) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*DynamoStore)(nil)
)

var clipExtensions = map[string]string{
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/wave":  "wav",
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/ogg":   "ogg",
	"audio/flac":  "flac",
	"audio/webm":  "webm",
	"audio/aac":   "aac",
}

var extensionTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"webm": "audio/webm",
	"aac":  "audio/aac",
}

// clipFileName is the stored name of the clip for turnIndex.
func clipFileName(turnIndex int, contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := clipExtensions[ct]
	if !ok {
		ext = "bin"
	}
	return fmt.Sprintf("message_%d.%s", turnIndex, ext)
}

func contentTypeFor(file string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), ".")
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

func clipURI(base, conversationID, file string) string {
	return fmt.Sprintf("%s/%s/audio/%s", strings.TrimRight(base, "/"), conversationID, file)
}

func validateID(conversationID string) error {
	if !domain.ValidConversationID(conversationID) {
		return fmt.Errorf("repository: invalid conversation id %q", conversationID)
	}
	return nil
}

// validateClipFile rejects anything that is not a bare clip filename.
func validateClipFile(file string) error {
	if file == "" || file != filepath.Base(file) || strings.HasPrefix(file, ".") || file == manifestFile {
		return fmt.Errorf("repository: invalid clip file %q", file)
	}
	return nil
}
