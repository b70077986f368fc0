package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Repository is the persistence boundary §3.2 assigns to C8 (writer) and
// C9 (one stage at a time, in dependency order — never concurrent).
type Repository interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	Update(ctx context.Context, conv *Conversation) error
	AppendAudioChunk(ctx context.Context, chunk AudioChunk) error
	CountAudioChunks(ctx context.Context, conversationID uuid.UUID) (int64, error)
	ListAudioChunks(ctx context.Context, conversationID uuid.UUID) ([]AudioChunk, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, conv *Conversation) error {
	if conv.ConversationID == uuid.Nil {
		conv.ConversationID = uuid.New()
	}
	entity, err := NewConversationEntityFromDomain(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var entity ConversationEntity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return entity.ToDomain()
}

func (r *GormRepository) Update(ctx context.Context, conv *Conversation) error {
	entity, err := NewConversationEntityFromDomain(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&ConversationEntity{}).
		Where("id = ?", conv.ConversationID).
		Updates(entity).Error; err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// AppendAudioChunk writes one chunk (§4.5). ChunkIndex is assigned by the
// caller (the Audio Persistence Worker owns dense/monotonic numbering).
func (r *GormRepository) AppendAudioChunk(ctx context.Context, chunk AudioChunk) error {
	entity := NewAudioChunkEntityFromDomain(chunk)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to append audio chunk: %w", err)
	}
	return r.db.WithContext(ctx).Model(&ConversationEntity{}).
		Where("id = ?", chunk.ConversationID).
		Updates(map[string]interface{}{
			"audio_chunks_count":   gorm.Expr("audio_chunks_count + 1"),
			"audio_total_duration": gorm.Expr("audio_total_duration + ?", chunk.Duration),
		}).Error
}

func (r *GormRepository) CountAudioChunks(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&AudioChunkEntity{}).
		Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count audio chunks: %w", err)
	}
	return count, nil
}

func (r *GormRepository) ListAudioChunks(ctx context.Context, conversationID uuid.UUID) ([]AudioChunk, error) {
	var entities []AudioChunkEntity
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("chunk_index asc").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to list audio chunks: %w", err)
	}
	chunks := make([]AudioChunk, len(entities))
	for i, e := range entities {
		chunks[i] = e.ToDomain()
	}
	return chunks, nil
}
