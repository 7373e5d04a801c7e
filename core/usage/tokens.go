package usage

import (
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// FromOpenAI extracts the token counts reported by an OpenAI chat
// completion. Returns zeros for a nil response.
func FromOpenAI(completion *openai.ChatCompletion) (inputTokens, outputTokens int64) {
	if completion == nil {
		return 0, 0
	}
	return completion.Usage.PromptTokens, completion.Usage.CompletionTokens
}

// FromGenAI extracts the token counts reported by a Gemini generate-content
// response. Returns zeros when the response carries no usage metadata.
func FromGenAI(resp *genai.GenerateContentResponse) (inputTokens, outputTokens int64) {
	if resp == nil || resp.UsageMetadata == nil {
		return 0, 0
	}
	return int64(resp.UsageMetadata.PromptTokenCount), int64(resp.UsageMetadata.CandidatesTokenCount)
}
