package handeval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulhankin/poker"

	"github.com/mcdev12/tablesync/go/internal/table/events"
)

// ErrIncompleteHand is returned unless exactly seven cards are given
var ErrIncompleteHand = errors.New("hand evaluation needs 7 cards")

// Evaluator names and scores seven card hands. Higher scores win.
type Evaluator struct{}

// New returns an Evaluator
func New() Evaluator {
	return Evaluator{}
}

// Describe returns the hand name and its score for two hole cards plus the board
func (Evaluator) Describe(cards []events.Card) (string, int, error) {
	if len(cards) != 7 {
		return "", 0, fmt.Errorf("%w: got %d", ErrIncompleteHand, len(cards))
	}

	var hand [7]poker.Card
	for i, c := range cards {
		pc, err := ToPokerCard(c)
		if err != nil {
			return "", 0, err
		}
		hand[i] = pc
	}

	desc, err := poker.Describe(hand[:])
	if err != nil {
		return "", 0, fmt.Errorf("describe hand: %w", err)
	}
	return desc, int(poker.Eval7(&hand)), nil
}

// ToPokerCard converts the wire card into the evaluator's representation
func ToPokerCard(c events.Card) (poker.Card, error) {
	var zero poker.Card
	suit, err := parseSuit(c.Suit)
	if err != nil {
		return zero, err
	}
	rank, err := parseRank(c.Rank)
	if err != nil {
		return zero, err
	}
	card, err := poker.MakeCard(suit, rank)
	if err != nil {
		return zero, fmt.Errorf("invalid card %s of %s: %w", c.Rank, c.Suit, err)
	}
	return card, nil
}

func parseSuit(s string) (poker.Suit, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("missing suit")
	}
	switch s[0] {
	case 'C':
		return poker.Club, nil
	case 'D':
		return poker.Diamond, nil
	case 'H':
		return poker.Heart, nil
	case 'S':
		return poker.Spade, nil
	default:
		return 0, fmt.Errorf("unknown suit %q", s)
	}
}

func parseRank(s string) (poker.Rank, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "A", "ACE", "1", "14":
		return poker.Rank(1), nil
	case "K", "KING", "13":
		return poker.Rank(13), nil
	case "Q", "QUEEN", "12":
		return poker.Rank(12), nil
	case "J", "JACK", "11":
		return poker.Rank(11), nil
	case "T", "TEN":
		return poker.Rank(10), nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 2 || n > 10 {
		return 0, fmt.Errorf("unknown rank %q", s)
	}
	return poker.Rank(n), nil
}
