package plugins

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/session"
)

// Services is the system-facing API plugins receive via Context
// (§4.10.4). A Router built with NewRouter wires a *SystemServices, but
// the interface lets tests substitute a fake.
type Services interface {
	CloseConversation(ctx context.Context, sessionID, reason string) error
	StarConversation(ctx context.Context, sessionID string) error
	CallPlugin(ctx context.Context, pluginID, action string, data map[string]interface{}, userID string) (PluginResult, error)
}

// SystemServices implements Services against the real session store and
// conversation repository, plus a back-reference to the owning Router
// for call_plugin.
type SystemServices struct {
	store  *session.Store
	repo   conversation.Repository
	router *Router
}

func newSystemServices(store *session.Store, repo conversation.Repository, router *Router) *SystemServices {
	return &SystemServices{store: store, repo: repo, router: router}
}

func (s *SystemServices) CloseConversation(ctx context.Context, sessionID, reason string) error {
	return s.store.SetField(ctx, sessionID, "conversation_close_requested", reason)
}

func (s *SystemServices) StarConversation(ctx context.Context, sessionID string) error {
	conversationID, err := s.store.GetCurrentConversation(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("looking up current conversation for session %s: %w", sessionID, err)
	}
	if conversationID == "" {
		return fmt.Errorf("no current conversation for session %s", sessionID)
	}
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return fmt.Errorf("parsing conversation id %s: %w", conversationID, err)
	}
	conv, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	conv.Starred = !conv.Starred
	return s.repo.Update(ctx, conv)
}

func (s *SystemServices) CallPlugin(ctx context.Context, pluginID, action string, data map[string]interface{}, userID string) (PluginResult, error) {
	if userID == "" {
		userID = "system"
	}
	merged := map[string]interface{}{"action": action}
	for k, v := range data {
		merged[k] = v
	}
	return s.router.callPlugin(ctx, pluginID, userID, merged)
}
