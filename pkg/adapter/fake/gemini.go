package fake

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"google.golang.org/genai"
)

// Request is one call received by Gemini
type Request struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// Gemini replies with Reply, or with the text returned by Respond when it is set
type Gemini struct {
	mu       sync.Mutex
	Reply    string
	Respond  func(req Request) (string, error)
	Requests []Request
}

var _ adapter.Gemini = (*Gemini)(nil)

func (g *Gemini) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req := Request{Model: model, Contents: contents, Config: config}
	g.Requests = append(g.Requests, req)

	text := g.Reply
	if g.Respond != nil {
		var err error
		text, err = g.Respond(req)
		if err != nil {
			return nil, goerr.Wrap(err, "fake gemini failed")
		}
	}

	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}, nil
}

// TextOf concatenates the text parts of a content
func TextOf(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var text string
	for _, p := range content.Parts {
		text += p.Text
	}
	return text
}
