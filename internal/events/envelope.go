package events

import (
	"fmt"
)

// Kind enumerates the record types a replay stream carries.
type Kind string

const (
	KindGameHeader  Kind = "game_header"
	KindMatchHeader Kind = "match_header"
	KindRound       Kind = "round"
	KindMatchFooter Kind = "match_footer"
	KindGameFooter  Kind = "game_footer"
)

// Envelope carries exactly one record together with its kind tag.
type Envelope struct {
	Sequence    uint64       `json:"seq,omitempty"`
	Kind        Kind         `json:"kind"`
	GameHeader  *GameHeader  `json:"game_header,omitempty"`
	MatchHeader *MatchHeader `json:"match_header,omitempty"`
	Round       *Round       `json:"round,omitempty"`
	MatchFooter *MatchFooter `json:"match_footer,omitempty"`
	GameFooter  *GameFooter  `json:"game_footer,omitempty"`
}

// GameHeaderEvent wraps a game header.
func GameHeaderEvent(h GameHeader) Envelope {
	return Envelope{Kind: KindGameHeader, GameHeader: &h}
}

// MatchHeaderEvent wraps a match header.
func MatchHeaderEvent(h MatchHeader) Envelope {
	return Envelope{Kind: KindMatchHeader, MatchHeader: &h}
}

// RoundEvent wraps a round delta.
func RoundEvent(r *Round) Envelope {
	return Envelope{Kind: KindRound, Round: r}
}

// MatchFooterEvent wraps a match footer.
func MatchFooterEvent(f MatchFooter) Envelope {
	return Envelope{Kind: KindMatchFooter, MatchFooter: &f}
}

// GameFooterEvent wraps a game footer.
func GameFooterEvent(f GameFooter) Envelope {
	return Envelope{Kind: KindGameFooter, GameFooter: &f}
}

// Validate checks the payload matching Kind is present and no other is.
func (e Envelope) Validate() error {
	present := 0
	for _, set := range []bool{e.GameHeader != nil, e.MatchHeader != nil, e.Round != nil, e.MatchFooter != nil, e.GameFooter != nil} {
		if set {
			present++
		}
	}
	if present != 1 {
		return fmt.Errorf("%w: envelope %q carries %d payloads", ErrMalformedRecord, e.Kind, present)
	}
	var ok bool
	switch e.Kind {
	case KindGameHeader:
		ok = e.GameHeader != nil
	case KindMatchHeader:
		ok = e.MatchHeader != nil
	case KindRound:
		ok = e.Round != nil
	case KindMatchFooter:
		ok = e.MatchFooter != nil
	case KindGameFooter:
		ok = e.GameFooter != nil
	default:
		return fmt.Errorf("%w: unknown envelope kind %q", ErrMalformedRecord, e.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: envelope %q carries the wrong payload", ErrMalformedRecord, e.Kind)
	}
	return nil
}
