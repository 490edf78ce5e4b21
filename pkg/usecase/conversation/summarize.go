package conversation

import (
	"context"
	_ "embed"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/model"
)

//go:embed prompt/summarize.md
var summarizePrompt string

// SummaryMessages builds the request for the memory of a thread: the
// conversation without the persona, the answer, then the summary instruction.
func SummaryMessages(bot *model.Bot, messages []model.Message, answer string) []model.Message {
	out := make([]model.Message, 0, len(messages)+3)
	out = append(out, model.Message{Role: model.RoleSystem, Content: "You are " + bot.Name + "."})
	for _, m := range messages {
		if m.Role == model.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	out = append(out,
		model.Message{Role: model.RoleAssistant, Content: answer},
		model.Message{Role: model.RoleUser, Content: summarizePrompt},
	)
	return out
}

// Summarize generates the memory text of a thread
func Summarize(ctx context.Context, gemini adapter.Gemini, bot *model.Bot, messages []model.Message, answer string) (string, error) {
	summary, err := Complete(ctx, gemini, bot.Model, SummaryMessages(bot, messages, answer))
	if err != nil {
		return "", goerr.Wrap(err, "failed to summarize thread", goerr.V("bot", bot.Name))
	}
	return summary, nil
}
