package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/pkg/Logger"
)

type registration struct {
	plugin Plugin
	config PluginConfig
}

// Router is the dispatch core of C10: a mutex-guarded in-memory
// registry plus an inverted event index, mirroring the shape of the
// teacher's toolsystem.memoryRegistry (map + RWMutex) generalized from
// "lookup one tool by id" to "lookup every plugin subscribed to an
// event".
type Router struct {
	mu       sync.RWMutex
	byID     map[string]registration
	index    map[Event][]string
	services *SystemServices
	logger   *Logger.Logger
}

func NewRouter(store *session.Store, repo conversation.Repository, logger *Logger.Logger) *Router {
	r := &Router{
		byID:   make(map[string]registration),
		index:  make(map[Event][]string),
		logger: logger,
	}
	r.services = newSystemServices(store, repo, r)
	return r
}

// Register adds a plugin under its config (§4.10.2), wiring it into the
// inverted index for each event it subscribes to.
func (r *Router) Register(p Plugin, cfg PluginConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[cfg.ID]; exists {
		return fmt.Errorf("plugin %q already registered", cfg.ID)
	}
	r.byID[cfg.ID] = registration{plugin: p, config: cfg}
	for _, e := range cfg.Events {
		event := Event(e)
		r.index[event] = append(r.index[event], cfg.ID)
	}
	return nil
}

// LoadAndRegister reads the plugin-configuration document at path and
// registers each enabled entry found in plugins against its matching
// already-constructed Plugin implementation.
func (r *Router) LoadAndRegister(path string, implementations map[string]Plugin) error {
	doc, err := LoadConfig(path)
	if err != nil {
		return err
	}
	for _, cfg := range doc.Plugins {
		impl, ok := implementations[cfg.ID]
		if !ok {
			r.logger.Warnf("plugins: no implementation registered for configured plugin %q, skipping", cfg.ID)
			continue
		}
		if err := r.Register(impl, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch implements §4.10.3: lookup, enabled/condition gating, method
// routing by event family, should_continue short-circuit.
func (r *Router) Dispatch(ctx context.Context, event Event, userID string, data, metadata map[string]interface{}) ([]PluginResult, error) {
	r.mu.RLock()
	ids := append([]string(nil), r.index[event]...)
	r.mu.RUnlock()

	results := make([]PluginResult, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		reg, ok := r.byID[id]
		r.mu.RUnlock()
		if !ok || !reg.config.Enabled {
			continue
		}

		callData := data
		switch reg.config.Condition {
		case ConditionWakeWord:
			transcript, _ := data["transcript"].(string)
			command, matched := matchWakeWord(transcript, reg.config.WakeWords)
			if !matched {
				continue
			}
			callData = cloneData(data)
			callData["command"] = command
			callData["original_transcript"] = transcript
		case ConditionConditional, ConditionAlways, "":
			// both unconditional cases proceed as-is
		}

		pc := Context{Event: event, UserID: userID, Data: callData, Metadata: metadata, Services: r.services}
		result, err := r.invoke(ctx, reg.plugin, event, pc)
		if err != nil {
			r.logger.Errorf("plugins: %s handling %s: %v", id, event, err)
			results = append(results, PluginResult{Success: false, Message: err.Error(), ShouldContinue: true})
			continue
		}
		results = append(results, result)
		if !result.ShouldContinue {
			break
		}
	}
	return results, nil
}

func (r *Router) invoke(ctx context.Context, p Plugin, event Event, pc Context) (PluginResult, error) {
	switch {
	case event == EventTranscriptStreaming || event == EventTranscriptBatch:
		return p.OnTranscript(ctx, pc)
	case event == EventConversationComplete || event == EventConversationStarred:
		return p.OnConversationComplete(ctx, pc)
	case event == EventMemoryProcessed:
		return p.OnMemoryProcessed(ctx, pc)
	case event == EventPluginAction:
		return p.OnPluginAction(ctx, pc)
	case event == EventButtonSinglePress || event == EventButtonDoublePress:
		return p.OnConversationComplete(ctx, pc)
	default:
		return PluginResult{}, fmt.Errorf("no handler family for event %s", event)
	}
}

func (r *Router) callPlugin(ctx context.Context, pluginID, userID string, data map[string]interface{}) (PluginResult, error) {
	r.mu.RLock()
	reg, ok := r.byID[pluginID]
	r.mu.RUnlock()
	if !ok || !reg.config.Enabled {
		return PluginResult{Success: false, Message: "plugin not found or disabled"}, nil
	}
	pc := Context{Event: EventPluginAction, UserID: userID, Data: data, Services: r.services}
	return reg.plugin.OnPluginAction(ctx, pc)
}

func cloneData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	return out
}
