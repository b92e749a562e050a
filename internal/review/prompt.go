package review

import (
	"fmt"

	"github.com/statemade/diffreview/internal/providers"
)

const (
	// ReadyMessage is sent after the last diff chunk to ask for the review.
	ReadyMessage = "The code is ready for your review. Please provide feedback on the code above."

	primeSystemPrompt = "You are a senior software engineer."

	primeUserPrompt = "I'm going to paste in a diff file for a GitHub branch. This represents a pull request. " +
		"The diff may take several messages for me to share the entire thing. After the messages are complete, " +
		"I'd like you, as a senior engineer, to review the above code and provide feedback."
)

// OversizedMessage is the comment posted instead of a review when the diff
// is longer than maxChars.
func OversizedMessage(maxChars int) string {
	return fmt.Sprintf("The PR is too large for Open AI. Max size for the diff is %d characters.", maxChars)
}

// PrimeRequest is the preamble call that tells the model a multi-part diff
// is coming.
func PrimeRequest(maxTokens int) providers.StreamRequest {
	return providers.StreamRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: primeSystemPrompt},
			{Role: providers.RoleUser, Content: primeUserPrompt},
		},
		MaxTokens: maxTokens,
	}
}

// BuildChunks splits diff into chunks of chunkSize characters and appends
// ReadyMessage.
func BuildChunks(diff string, chunkSize int) []string {
	return append(SplitFixed(diff, chunkSize), ReadyMessage)
}
