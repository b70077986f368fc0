// Package plugins implements the Plugin Router (C10, §4.10): an
// inverted event index over a small, fixed event vocabulary, dispatch
// with wake-word gating, and the services-API callback surface plugins
// use to act back on the system. Modeled on the teacher's
// pkg/tool_system.Registry (mutex-guarded in-memory map + an id lookup),
// generalized from tool specs to plugin event subscriptions.
package plugins

import "context"

// Event names the fixed vocabulary (§4.10.1). Nothing outside this set
// is ever dispatched.
type Event string

const (
	EventConversationComplete Event = "conversation.complete"
	EventTranscriptStreaming  Event = "transcript.streaming"
	EventTranscriptBatch      Event = "transcript.batch"
	EventMemoryProcessed      Event = "memory.processed"
	EventConversationStarred  Event = "conversation.starred"
	EventButtonSinglePress    Event = "button.single_press"
	EventButtonDoublePress    Event = "button.double_press"
	EventPluginAction         Event = "plugin_action"
)

// PluginResult is every plugin method's return shape (§4.10.3 step 5).
type PluginResult struct {
	Success        bool                   `json:"success"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Message        string                 `json:"message,omitempty"`
	ShouldContinue bool                   `json:"should_continue"`
}

// Context carries one dispatch's event data plus the services API
// (§4.10.4) back to the plugin.
type Context struct {
	Event    Event
	UserID   string
	Data     map[string]interface{}
	Metadata map[string]interface{}
	Services Services
}

// Plugin is the contract a registered plugin implements. Every plugin
// implements all four methods; for each dispatched event the router calls
// only the one matching that event's family (§4.10.3 step 4).
type Plugin interface {
	ID() string
	OnTranscript(ctx context.Context, pc Context) (PluginResult, error)
	OnConversationComplete(ctx context.Context, pc Context) (PluginResult, error)
	OnMemoryProcessed(ctx context.Context, pc Context) (PluginResult, error)
	OnPluginAction(ctx context.Context, pc Context) (PluginResult, error)
}
