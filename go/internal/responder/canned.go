package responder

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/session"
)

var cannedReplies = []string{
	"haha fair point",
	"why do you ask?",
	"not sure, but I think so",
	"hmm, depends on the day tbh",
	"I'm from Berlin, you?",
	"could you clarify that?",
	"lol yeah",
	"I disagree a bit",
	"probably, but not 100%",
	"just made coffee",
}

var greetings = map[string]bool{"hi": true, "hey": true, "hello": true, "moin": true}

// Canned is a local rule-based responder used when no text generator is wired.
type Canned struct {
	delay time.Duration
	pick  func(n int) int
}

// NewCanned returns a responder that suggests delay before each reply.
func NewCanned(delay time.Duration) *Canned {
	return &Canned{delay: delay, pick: rand.IntN}
}

func (c *Canned) Respond(ctx context.Context, convo session.ConversationContext) (session.Reply, error) {
	if err := ctx.Err(); err != nil {
		return session.Reply{}, err
	}

	text := c.reply(convo.LastMessage)
	log.Debug().
		Str("session_id", convo.SessionID.String()).
		Int("turns", len(convo.Turns)).
		Msg("canned reply selected")
	return session.Reply{Text: text, Delay: c.delay}, nil
}

func (c *Canned) reply(last string) string {
	low := strings.ToLower(last)
	words := strings.FieldsFunc(low, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})

	switch {
	case strings.Contains(low, "where"):
		return "around NRW lately, moving soon"
	case strings.Contains(low, "why") || strings.Contains(low, "how"):
		return "long story, mainly work stuff"
	}
	for _, w := range words {
		if greetings[w] {
			return "hey! what's up?"
		}
	}
	return cannedReplies[c.pick(len(cannedReplies))]
}
