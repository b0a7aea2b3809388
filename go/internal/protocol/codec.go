package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformedFrame is returned for malformed, unknown or disallowed frames.
var ErrMalformedFrame = errors.New("invalid frame")

// MaxTurnRunes caps inbound turn text. Longer text is cut, not rejected.
const MaxTurnRunes = 280

// Envelope is the wire shape of every frame.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps a frame in its envelope.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", f.Kind(), err)
	}
	out, err := json.Marshal(Envelope{Type: f.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses any known frame kind.
func Decode(raw []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case KindMatchStart:
		return decodeAs[MatchStart](env.Data)
	case KindTurn:
		return decodeAs[Turn](env.Data)
	case KindTyping:
		return decodeAs[Typing](env.Data)
	case KindGuess:
		return decodeAs[Guess](env.Data)
	case KindResult:
		return decodeAs[Result](env.Data)
	case KindReveal:
		return decodeAs[Reveal](env.Data)
	case KindError:
		return decodeAs[Error](env.Data)
	case KindState:
		return decodeAs[State](env.Data)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
}

// DecodeInbound parses a frame sent by a participant. Only turn, typing, guess and
// state are accepted, and their contents are validated.
func DecodeInbound(raw []byte) (Frame, error) {
	f, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	switch v := f.(type) {
	case Turn:
		text := strings.TrimSpace(v.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: empty turn", ErrMalformedFrame)
		}
		return Turn{Text: truncateRunes(text, MaxTurnRunes)}, nil
	case Guess:
		if v.Value != "human" && v.Value != "ai" {
			return nil, fmt.Errorf("%w: guess must be human or ai", ErrMalformedFrame)
		}
		return v, nil
	case Typing:
		return v, nil
	case State:
		return State{}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not accepted from participants", ErrMalformedFrame, f.Kind())
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}

func decodeAs[T Frame](data json.RawMessage) (Frame, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return v, nil
}
