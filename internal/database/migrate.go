package database

import (
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/domains/user"
	"gorm.io/gorm"
)

// MigrateDB auto-migrates every relational entity owned by the core
// components (C8 conversation domain, user auth for the gateway).
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&user.UserEntity{},
		&conversation.ConversationEntity{},
		&conversation.AudioChunkEntity{},
	)
}
