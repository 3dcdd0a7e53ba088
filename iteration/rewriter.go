package iteration

import "context"

// PromptRewriter is the external prompt-rewriting collaborator's seam
// (§9): an LLM-backed or rule-based service that may refine a prompt
// after the user selects a generation. It is not specified further than
// this interface — the orchestrator never calls an LLM itself.
type PromptRewriter interface {
	Rewrite(ctx context.Context, prompt, negative string) (newPrompt, newNegative, rationale string, err error)
}

// NoopRewriter is the default PromptRewriter: it returns its inputs
// unchanged with a boilerplate rationale, exactly as §9 specifies.
type NoopRewriter struct{}

// Rewrite implements PromptRewriter.
func (NoopRewriter) Rewrite(_ context.Context, prompt, negative string) (string, string, string, error) {
	return prompt, negative, "no rewriting applied", nil
}
