package conversation

import (
	"math/rand/v2"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var ErrTooManyCards = goerr.New("too many tarot cards requested")

// majorArcana is the deck used for the persona flavor text
var majorArcana = []string{
	"The Fool",
	"The Magician",
	"The High Priestess",
	"The Empress",
	"The Emperor",
	"The Hierophant",
	"The Lovers",
	"The Chariot",
	"Strength",
	"The Hermit",
	"Wheel of Fortune",
	"Justice",
	"The Hanged Man",
	"Death",
	"Temperance",
	"The Devil",
	"The Tower",
	"The Star",
	"The Moon",
	"The Sun",
	"Judgement",
	"The World",
}

type Orientation string

const (
	Upright  Orientation = "upright"
	Reversed Orientation = "reversed"
)

type Tarot struct {
	Card        string
	Orientation Orientation
}

func (t Tarot) String() string {
	return t.Card + " (" + string(t.Orientation) + ")"
}

// DeckSize is the number of cards DrawTarots draws from
func DeckSize() int {
	return len(majorArcana)
}

// DrawTarots draws n distinct cards, each with a random orientation
func DrawTarots(rng *rand.Rand, n int) ([]Tarot, error) {
	if n < 0 {
		return nil, goerr.New("negative number of tarot cards", goerr.V("n", n))
	}
	if n > len(majorArcana) {
		return nil, goerr.Wrap(ErrTooManyCards, "failed to draw tarot cards",
			goerr.V("n", n),
			goerr.V("deck", len(majorArcana)))
	}

	perm := rng.Perm(len(majorArcana))
	cards := make([]Tarot, n)
	for i := range n {
		orientation := Upright
		if rng.IntN(2) == 1 {
			orientation = Reversed
		}
		cards[i] = Tarot{Card: majorArcana[perm[i]], Orientation: orientation}
	}
	return cards, nil
}

// FormatTarots joins cards for the persona template
func FormatTarots(cards []Tarot) string {
	names := make([]string, len(cards))
	for i, c := range cards {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}
