package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// Bot describes one persona served by the engine
type Bot struct {
	Name     string
	Reaction string
	UserID   UserID
	Token    string
	ReadPin  bool
	Model    string

	// MemoryChannelID is empty when the bot keeps no memory
	MemoryChannelID   ChannelID
	MemoryChannelName string

	// SystemMessage is a text/template with CurrentTime and Tarots fields
	SystemMessage string
}

// Mention returns the literal substring that addresses the bot in a message
func (b *Bot) Mention() string {
	return "@" + b.Name
}

// HasMemory reports whether memory persistence is configured
func (b *Bot) HasMemory() bool {
	return b.MemoryChannelID != ""
}

// Validate checks required fields of the bot descriptor
func (b *Bot) Validate() error {
	switch {
	case b.Name == "":
		return goerr.New("bot name is empty")
	case b.Reaction == "":
		return goerr.New("reaction is empty", goerr.V("bot", b.Name))
	case b.UserID == "":
		return goerr.New("user id is empty", goerr.V("bot", b.Name))
	case b.Token == "":
		return goerr.New("token is empty", goerr.V("bot", b.Name))
	case b.Model == "":
		return goerr.New("model is empty", goerr.V("bot", b.Name))
	case b.SystemMessage == "":
		return goerr.New("system message is empty", goerr.V("bot", b.Name))
	}
	return nil
}
