// Package llm defines the contract the Post-Conversation Chain's
// memory_extraction and title_summary jobs (§4.9) call into. Generalized
// from the teacher's internal/models/processor.Processor — same
// instruction/input/typed-response shape — but split into two
// domain-specific methods instead of one generic Process/ProcessWithType
// pair, since both call sites here have a fixed, known response shape.
package llm

import "context"

// TitleSummary is the structured output of the title_summary job.
type TitleSummary struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	DetailedSummary string `json:"detailed_summary"`
}

// MemoryExtraction is out of core scope beyond its contract (§4.9,
// §6.5) — the result is passed through to whatever downstream memory
// store the deployment wires up, not interpreted here.
type MemoryExtraction struct {
	Facts    []string `json:"facts"`
	Entities []string `json:"entities"`
}

// Provider is the model backend for both post-conversation jobs.
// Transcript text plus segments are always the primary input; memory
// context is optional extra grounding for title_summary (§4.9).
type Provider interface {
	Summarize(ctx context.Context, transcript string, segments []string, memoryContext string) (TitleSummary, error)
	ExtractMemory(ctx context.Context, transcript string, segments []string) (MemoryExtraction, error)
}
