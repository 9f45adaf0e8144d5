// Package minutes turns a finished transcript into a minutes-of-meeting
// document using the OpenAI chat API. It is a downstream consumer of the
// recording controller's output; document layout and storage live in the
// surrounding application.
package minutes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/syedabdeen/minutevault/internal/logging"
	"github.com/syedabdeen/minutevault/internal/recording"
)

const systemInstructions = `You are a meeting secretary. Given a timestamped,
speaker-labeled transcript, produce minutes of the meeting as JSON with the
fields: "summary" (string), "decisions" (array of strings) and
"action_items" (array of strings). Be factual; do not invent content that is
not in the transcript.`

// Document is the generated minutes-of-meeting content.
type Document struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
}

// completionAPI is the slice of the OpenAI client the generator uses,
// narrowed so tests can substitute a fake.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator produces minutes from final transcripts.
type Generator struct {
	client completionAPI
	model  string
}

// NewGenerator creates a generator using the given API key and model.
func NewGenerator(apiKey, model string) *Generator {
	return &Generator{client: openai.NewClient(apiKey), model: model}
}

// Generate renders the transcript and asks the model for minutes.
func (g *Generator) Generate(ctx context.Context, final *recording.FinalTranscript) (*Document, error) {
	if final == nil || len(final.Segments) == 0 {
		return nil, fmt.Errorf("transcript is empty")
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstructions},
			{Role: openai.ChatMessageRoleUser, Content: renderTranscript(final)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate minutes: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generate minutes: empty completion")
	}

	var doc Document
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &doc); err != nil {
		return nil, fmt.Errorf("parse minutes response: %w", err)
	}
	doc.Title = final.Title

	logging.Info(logging.CategoryMinutes, "minutes generated title=%q decisions=%d actions=%d", doc.Title, len(doc.Decisions), len(doc.ActionItems))
	return &doc, nil
}

// renderTranscript formats segments as "[mm:ss] Speaker N: text" lines.
func renderTranscript(final *recording.FinalTranscript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %s\nDuration: %.0f seconds\nSpeakers: %d\n\n",
		final.Title, final.DurationSeconds, final.SpeakerCount)
	for _, seg := range final.Segments {
		total := seg.StartOffsetMs / 1000
		fmt.Fprintf(&b, "[%02d:%02d] %s: %s\n", total/60, total%60, seg.Speaker, seg.Text)
	}
	return b.String()
}
