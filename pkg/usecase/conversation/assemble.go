package conversation

import (
	"bytes"
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mmpersona/pkg/adapter"
	"github.com/m-mizutani/mmpersona/pkg/model"
)

const continueInstruction = "\nContinue the chat log below with your reply."

// personaInput is the data the persona template is executed with
type personaInput struct {
	CurrentTime string
	Tarots      string
}

// RenderPersona executes the persona template with the current time and a
// drawn tarot card
func RenderPersona(tmpl string, now time.Time, rng *rand.Rand) (string, error) {
	t, err := template.New("persona").Parse(tmpl)
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse persona template")
	}

	cards, err := DrawTarots(rng, 1)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, personaInput{
		CurrentTime: formatTime(now),
		Tarots:      FormatTarots(cards),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute persona template")
	}
	return buf.String(), nil
}

// Assembler composes the prompt sent to the completion service
type Assembler struct {
	chat   adapter.Chat
	users  model.UserMap
	teamID string
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

type AssemblerOption func(*Assembler)

func WithNow(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

func WithRand(rng *rand.Rand) AssemblerOption {
	return func(a *Assembler) {
		a.rng = rng
	}
}

func NewAssembler(chat adapter.Chat, users model.UserMap, teamID string, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		chat:   chat,
		users:  users,
		teamID: teamID,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AssembleInput is a request to build the prompt for one triggering post
type AssembleInput struct {
	Bot    *model.Bot
	Post   *model.Post
	Pinned []*model.Post
}

// Assemble returns the system persona message followed by a single user
// message holding the pinned block, the memory block and the thread.
func (a *Assembler) Assemble(ctx context.Context, input AssembleInput) ([]model.Message, error) {
	a.rngMu.Lock()
	persona, err := RenderPersona(input.Bot.SystemMessage, a.now(), a.rng)
	a.rngMu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to render persona", goerr.V("bot", input.Bot.Name))
	}

	var blocks []string
	if input.Bot.ReadPin {
		if pinned := FormatPinned(input.Pinned, a.users); pinned != "" {
			blocks = append(blocks, pinned)
		}
	}

	if input.Bot.HasMemory() {
		store := NewMemoryStore(a.chat, a.teamID, input.Bot)
		memories, err := store.Read(ctx, input.Post.ThreadRoot())
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read memory", goerr.V("bot", input.Bot.Name))
		}
		if len(memories) > 0 {
			blocks = append(blocks, "Memories of past conversations:\n"+strings.Join(memories, "\n"))
		}
	}

	thread, err := CollectThread(ctx, a.chat, input.Post.ID, a.users)
	if err != nil {
		return nil, err
	}
	blocks = append(blocks, thread...)

	return []model.Message{
		{Role: model.RoleSystem, Content: persona + continueInstruction},
		{Role: model.RoleUser, Content: strings.Join(blocks, "\n")},
	}, nil
}
