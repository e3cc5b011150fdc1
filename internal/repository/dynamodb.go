package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ai-talks/internal/domain"
	"ai-talks/internal/playback"
)

const (
	skMeta          = "META#"
	skPrefixClip    = "CLIP#"
	skPrefixPart    = "PART#"
	defaultItemTTL  = 30 * 24 * time.Hour
	// clipPartSize keeps every clip item well below DynamoDB's 400 KB item cap.
	clipPartSize = 350 * 1024
	maxClipParts = 32
	attrTranscript  = "transcript"
	attrShared      = "shared"
	attrSharedAt    = "sharedAt"
	attrExpiresAt   = "expiresAt"
	attrUpdatedAt   = "updatedAt"
	attrTTL         = "ttl"
	attrTurnIndex   = "turnIndex"
	attrFile        = "file"
	attrContentType = "contentType"
	attrAudio       = "audio"
	attrParts       = "parts"
)

// ErrClipTooLarge is returned by DynamoStore.SaveClip for audio that does not
// fit in maxClipParts items.
var ErrClipTooLarge = errors.New("repository: clip too large")

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps a conversation as one META# item holding the transcript
// document plus one CLIP#<turn> item per speech clip, all under CONV#<id>.
// Audio beyond the first clipPartSize bytes goes to PART#<turn>#<n> items.
// Items carry a ttl attribute so the table expires what the sweep misses;
// sharing moves the ttl of every item in the partition to the share expiry.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	baseURI   string
	itemTTL   time.Duration
	now       func() time.Time
}

type DynamoOption func(*DynamoStore)

func WithItemTTL(d time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		if d > 0 {
			s.itemTTL = d
		}
	}
}

func WithDynamoClipBaseURI(base string) DynamoOption {
	return func(s *DynamoStore) {
		if strings.TrimSpace(base) != "" {
			s.baseURI = base
		}
	}
}

func WithDynamoClock(now func() time.Time) DynamoOption {
	return func(s *DynamoStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewDynamoStore(api dynamodbAPI, tableName string, opts ...DynamoOption) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &DynamoStore{
		api:       api,
		tableName: tableName,
		baseURI:   defaultClipBaseURI,
		itemTTL:   defaultItemTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func clipSK(turnIndex int) string {
	return fmt.Sprintf("%s%06d", skPrefixClip, turnIndex)
}

func partSK(turnIndex, part int) string {
	return fmt.Sprintf("%s%06d#%03d", skPrefixPart, turnIndex, part)
}

func (s *DynamoStore) key(conversationID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// ttlFor is the expiry written on items. Shared conversations live until
// their share expires.
func (s *DynamoStore) ttlFor(expiresAt *time.Time) int64 {
	if expiresAt != nil {
		return expiresAt.Unix()
	}
	return s.now().Add(s.itemTTL).Unix()
}

func (s *DynamoStore) Save(ctx context.Context, t domain.Transcript) error {
	if err := validateID(t.ConversationID); err != nil {
		return err
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("repository: Save marshal: %w", err)
	}
	updated := t.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	item := s.key(t.ConversationID, skMeta)
	item["conversationId"] = &types.AttributeValueMemberS{Value: t.ConversationID}
	item[attrTranscript] = &types.AttributeValueMemberS{Value: string(doc)}
	item[attrShared] = &types.AttributeValueMemberBOOL{Value: t.Shared}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: updated.UTC().Format(time.RFC3339Nano)}
	item[attrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ttlFor(t.ExpiresAt), 10)}
	if t.ExpiresAt != nil {
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(t.ExpiresAt.Unix(), 10)}
	}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func (s *DynamoStore) Load(ctx context.Context, conversationID string) (domain.Transcript, error) {
	if err := validateID(conversationID); err != nil {
		return domain.Transcript{}, err
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(conversationID, skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Transcript{}, ErrNotFound
	}
	doc, err := strAttr(out.Item, attrTranscript)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("repository: Load: %w", err)
	}
	var t domain.Transcript
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return domain.Transcript{}, fmt.Errorf("repository: Load unmarshal: %w", err)
	}
	// Share state is updated in place by MarkShared and wins over the document.
	if shared, ok := boolAttr(out.Item, attrShared); ok {
		t.Shared = shared
	}
	if ts, ok := unixAttr(out.Item, attrSharedAt); ok {
		t.SharedAt = &ts
	}
	if ts, ok := unixAttr(out.Item, attrExpiresAt); ok {
		t.ExpiresAt = &ts
	}
	return t, nil
}

func (s *DynamoStore) MarkShared(ctx context.Context, conversationID string, sharedAt, expiresAt time.Time) error {
	if err := validateID(conversationID); err != nil {
		return err
	}
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(conversationID, skMeta),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		UpdateExpression:    aws.String("SET #shared = :shared, #sharedAt = :sharedAt, #expiresAt = :expiresAt, #updatedAt = :updatedAt, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#shared":    attrShared,
			"#sharedAt":  attrSharedAt,
			"#expiresAt": attrExpiresAt,
			"#updatedAt": attrUpdatedAt,
			"#ttl":       attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":shared":    &types.AttributeValueMemberBOOL{Value: true},
			":sharedAt":  &types.AttributeValueMemberN{Value: strconv.FormatInt(sharedAt.Unix(), 10)},
			":expiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
			":updatedAt": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
			":ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: MarkShared: %w", err)
	}

	items, err := s.queryPartition(ctx, conversationID, "", "PK, SK", nil)
	if err != nil {
		return fmt.Errorf("repository: MarkShared query clips: %w", err)
	}
	ttl := &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)}
	for _, item := range items {
		if sk, _ := strAttr(item, "SK"); sk == skMeta {
			continue
		}
		if _, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.tableName),
			Key:                       map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
			UpdateExpression:          aws.String("SET #ttl = :ttl"),
			ExpressionAttributeNames:  map[string]string{"#ttl": attrTTL},
			ExpressionAttributeValues: map[string]types.AttributeValue{":ttl": ttl},
		}); err != nil {
			return fmt.Errorf("repository: MarkShared extend clip ttl: %w", err)
		}
	}
	return nil
}

// shareExpiry reads the share expiry recorded on the META# item, if any.
func (s *DynamoStore) shareExpiry(ctx context.Context, conversationID string) (*time.Time, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      s.key(conversationID, skMeta),
		ProjectionExpression:     aws.String("#expiresAt"),
		ExpressionAttributeNames: map[string]string{"#expiresAt": attrExpiresAt},
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	if ts, ok := unixAttr(out.Item, attrExpiresAt); ok {
		return &ts, nil
	}
	return nil, nil
}

func (s *DynamoStore) SaveClip(ctx context.Context, conversationID string, turnIndex int, audio domain.Audio) (domain.AudioClip, error) {
	if err := validateID(conversationID); err != nil {
		return domain.AudioClip{}, err
	}
	if turnIndex < 0 {
		return domain.AudioClip{}, fmt.Errorf("repository: invalid turn index %d", turnIndex)
	}
	if len(audio.Data) == 0 {
		return domain.AudioClip{}, errors.New("repository: clip audio must not be empty")
	}
	parts := (len(audio.Data) + clipPartSize - 1) / clipPartSize
	if parts > maxClipParts {
		return domain.AudioClip{}, fmt.Errorf("%w: %d bytes", ErrClipTooLarge, len(audio.Data))
	}
	expiresAt, err := s.shareExpiry(ctx, conversationID)
	if err != nil {
		return domain.AudioClip{}, fmt.Errorf("repository: SaveClip read share: %w", err)
	}
	ttl := &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ttlFor(expiresAt), 10)}
	updated := &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)}

	file := clipFileName(turnIndex, audio.ContentType)
	clip := domain.AudioClip{
		TurnIndex:   turnIndex,
		File:        file,
		URI:         clipURI(s.baseURI, conversationID, file),
		ContentType: contentTypeFor(file),
	}

	// Parts go first so the head item never points at missing data.
	for n := 1; n < parts; n++ {
		item := s.key(conversationID, partSK(turnIndex, n))
		item[attrAudio] = &types.AttributeValueMemberB{Value: chunk(audio.Data, n)}
		item[attrUpdatedAt] = updated
		item[attrTTL] = ttl
		if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      item,
		}); err != nil {
			return domain.AudioClip{}, fmt.Errorf("repository: SaveClip part %d: %w", n, err)
		}
	}

	item := s.key(conversationID, clipSK(turnIndex))
	item[attrTurnIndex] = &types.AttributeValueMemberN{Value: strconv.Itoa(turnIndex)}
	item[attrFile] = &types.AttributeValueMemberS{Value: file}
	item[attrContentType] = &types.AttributeValueMemberS{Value: clip.ContentType}
	item[attrAudio] = &types.AttributeValueMemberB{Value: chunk(audio.Data, 0)}
	item[attrParts] = &types.AttributeValueMemberN{Value: strconv.Itoa(parts)}
	item[attrUpdatedAt] = updated
	item[attrTTL] = ttl

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return domain.AudioClip{}, fmt.Errorf("repository: SaveClip: %w", err)
	}
	return clip, nil
}

func chunk(data []byte, n int) []byte {
	start := n * clipPartSize
	return data[start:min(start+clipPartSize, len(data))]
}

func (s *DynamoStore) ListAudioManifest(ctx context.Context, conversationID string) ([]domain.AudioClip, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	items, err := s.queryPartition(ctx, conversationID, skPrefixClip, "#ti, #f, #ct", map[string]string{
		"#ti": attrTurnIndex,
		"#f":  attrFile,
		"#ct": attrContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListAudioManifest: %w", err)
	}
	clips := make([]domain.AudioClip, 0, len(items))
	for _, item := range items {
		idx, err := intAttr(item, attrTurnIndex)
		if err != nil {
			return nil, fmt.Errorf("repository: ListAudioManifest decode: %w", err)
		}
		file, err := strAttr(item, attrFile)
		if err != nil {
			return nil, fmt.Errorf("repository: ListAudioManifest decode: %w", err)
		}
		ct, _ := strAttr(item, attrContentType) // allow empty
		if ct == "" {
			ct = contentTypeFor(file)
		}
		clips = append(clips, domain.AudioClip{
			TurnIndex:   idx,
			File:        file,
			URI:         clipURI(s.baseURI, conversationID, file),
			ContentType: ct,
		})
	}
	sort.SliceStable(clips, func(a, b int) bool { return clips[a].TurnIndex < clips[b].TurnIndex })
	return clips, nil
}

func (s *DynamoStore) OpenClip(ctx context.Context, conversationID, file string) (domain.Audio, error) {
	if err := validateID(conversationID); err != nil {
		return domain.Audio{}, err
	}
	if err := validateClipFile(file); err != nil {
		return domain.Audio{}, err
	}
	idx, ok := playback.ParseClipIndex(file)
	if !ok {
		return domain.Audio{}, ErrNotFound
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(conversationID, clipSK(idx)),
	})
	if err != nil {
		return domain.Audio{}, fmt.Errorf("repository: OpenClip get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Audio{}, ErrNotFound
	}
	if stored, _ := strAttr(out.Item, attrFile); stored != file {
		return domain.Audio{}, ErrNotFound
	}
	b, ok := out.Item[attrAudio].(*types.AttributeValueMemberB)
	if !ok {
		return domain.Audio{}, errors.New("repository: OpenClip: attribute \"audio\" is not binary")
	}
	ct, _ := strAttr(out.Item, attrContentType)
	if ct == "" {
		ct = contentTypeFor(file)
	}
	parts := 1
	if n, err := intAttr(out.Item, attrParts); err == nil && n > 1 {
		parts = n
	}
	if parts == 1 {
		return domain.Audio{Data: b.Value, ContentType: ct}, nil
	}

	data := append(make([]byte, 0, parts*clipPartSize), b.Value...)
	for n := 1; n < parts; n++ {
		po, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key:       s.key(conversationID, partSK(idx, n)),
		})
		if err != nil {
			return domain.Audio{}, fmt.Errorf("repository: OpenClip get part %d: %w", n, err)
		}
		if po == nil {
			return domain.Audio{}, fmt.Errorf("repository: OpenClip: part %d of %s missing", n, file)
		}
		pb, ok := po.Item[attrAudio].(*types.AttributeValueMemberB)
		if !ok {
			return domain.Audio{}, fmt.Errorf("repository: OpenClip: part %d of %s missing", n, file)
		}
		data = append(data, pb.Value...)
	}
	return domain.Audio{Data: data, ContentType: ct}, nil
}

// List scans the table, folding items into one entry per conversation.
// Partitions holding only clips are reported without a transcript.
func (s *DynamoStore) List(ctx context.Context) ([]domain.ConversationMeta, error) {
	metas := map[string]*domain.ConversationMeta{}
	in := &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		ProjectionExpression: aws.String("PK, SK, #shared, #expiresAt, #updatedAt"),
		ExpressionAttributeNames: map[string]string{
			"#shared":    attrShared,
			"#expiresAt": attrExpiresAt,
			"#updatedAt": attrUpdatedAt,
		},
	}
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: List scan: %w", err)
		}
		for _, item := range out.Items {
			pk, err := strAttr(item, "PK")
			if err != nil || !strings.HasPrefix(pk, "CONV#") {
				continue
			}
			sk, _ := strAttr(item, "SK")
			id := strings.TrimPrefix(pk, "CONV#")
			m, ok := metas[id]
			if !ok {
				m = &domain.ConversationMeta{ConversationID: id}
				metas[id] = m
			}
			updated := timeAttr(item, attrUpdatedAt)
			if sk == skMeta {
				m.HasTranscript = true
				m.Shared, _ = boolAttr(item, attrShared)
				if ts, ok := unixAttr(item, attrExpiresAt); ok {
					m.ExpiresAt = &ts
				}
				m.UpdatedAt = updated
			} else if !m.HasTranscript && updated.After(m.UpdatedAt) {
				m.UpdatedAt = updated
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	res := make([]domain.ConversationMeta, 0, len(metas))
	for _, m := range metas {
		res = append(res, *m)
	}
	sort.Slice(res, func(a, b int) bool { return res[a].ConversationID < res[b].ConversationID })
	return res, nil
}

// Delete removes every item in the conversation's partition.
func (s *DynamoStore) Delete(ctx context.Context, conversationID string) error {
	if err := validateID(conversationID); err != nil {
		return err
	}
	items, err := s.queryPartition(ctx, conversationID, "", "PK, SK", nil)
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	for _, item := range items {
		if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
		}); err != nil {
			return fmt.Errorf("repository: Delete item: %w", err)
		}
	}
	return nil
}

func (s *DynamoStore) queryPartition(ctx context.Context, conversationID, skPrefix, projection string, names map[string]string) ([]map[string]types.AttributeValue, error) {
	cond := "PK = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: convPK(conversationID)},
	}
	if skPrefix != "" {
		cond += " AND begins_with(SK, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}
	if projection != "" {
		in.ProjectionExpression = aws.String(projection)
	}
	if len(names) > 0 {
		in.ExpressionAttributeNames = names
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, bool) {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, false
	}
	return b.Value, true
}

func unixAttr(item map[string]types.AttributeValue, key string) (time.Time, bool) {
	n, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

func timeAttr(item map[string]types.AttributeValue, key string) time.Time {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
