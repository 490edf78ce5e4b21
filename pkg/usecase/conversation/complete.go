package conversation

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/model"
	"google.golang.org/genai"
)

var ErrEmptyCompletion = goerr.New("completion returned no content")

// Complete sends messages to the completion service and returns the generated text
func Complete(ctx context.Context, gemini adapter.Gemini, modelName string, messages []model.Message) (string, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Content)
		case model.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case model.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			return "", goerr.New("unknown message role", goerr.V("role", m.Role))
		}
	}

	temperature := float32(1.0)
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n"), "")
	}

	resp, err := gemini.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", modelName))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.Wrap(ErrEmptyCompletion, "no candidate", goerr.V("model", modelName))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", goerr.Wrap(ErrEmptyCompletion, "empty candidate", goerr.V("model", modelName))
	}

	return text.String(), nil
}
