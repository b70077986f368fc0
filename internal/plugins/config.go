package plugins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Condition gates whether a subscribed plugin actually runs for a given
// dispatch (§4.10.3 step 3).
type Condition string

const (
	ConditionAlways      Condition = "always"
	ConditionWakeWord    Condition = "wake_word"
	ConditionConditional Condition = "conditional"
)

// PluginConfig is one entry of the plugin-configuration document (§6.4).
type PluginConfig struct {
	ID        string    `yaml:"id"`
	Enabled   bool      `yaml:"enabled"`
	Events    []string  `yaml:"events"`
	Condition Condition `yaml:"condition"`
	WakeWords []string  `yaml:"wake_words"`
}

// Document is the top-level plugin-configuration document (§6.4).
type Document struct {
	Plugins []PluginConfig `yaml:"plugins"`
}

func LoadConfig(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading plugin config %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing plugin config %s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d Document) Validate() error {
	seen := make(map[string]bool, len(d.Plugins))
	for _, p := range d.Plugins {
		if p.ID == "" {
			return fmt.Errorf("plugin config entry missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate plugin id %q", p.ID)
		}
		seen[p.ID] = true
		for _, e := range p.Events {
			if !validEvent(e) {
				return fmt.Errorf("plugin %q subscribes to unknown event %q", p.ID, e)
			}
		}
		switch p.Condition {
		case "", ConditionAlways, ConditionWakeWord, ConditionConditional:
		default:
			return fmt.Errorf("plugin %q has unknown condition %q", p.ID, p.Condition)
		}
		if p.Condition == ConditionWakeWord && len(p.WakeWords) == 0 {
			return fmt.Errorf("plugin %q uses wake_word condition but lists no wake_words", p.ID)
		}
	}
	return nil
}

func validEvent(e string) bool {
	switch Event(e) {
	case EventConversationComplete, EventTranscriptStreaming, EventTranscriptBatch,
		EventMemoryProcessed, EventConversationStarred, EventButtonSinglePress,
		EventButtonDoublePress, EventPluginAction:
		return true
	}
	return false
}
