package server

import (
	"time"

	"github.com/maxxi02/rendezvous-server/internal/stats"
)

// typingTimeout is how long after the last typing signal a synthetic stop is
// emitted on the user's behalf.
const typingTimeout = 3 * time.Second

// handleTyping runs on the room loop. A start arms or re-arms the user's
// debounce timer; only a fresh arm emits a begin event, so rapid re-starts
// never duplicate it. A stop cancels the timer and emits the stop event
// immediately.
func (r *Room) handleTyping(msg *ClientMessage) {
	userId := msg.client.user.Id

	if !msg.Typing.Started {
		r.cancelTyping(userId, true)
		return
	}

	if timer, ok := r.typing[userId]; ok {
		timer.Reset(typingTimeout)
		return
	}

	r.typing[userId] = time.AfterFunc(typingTimeout, func() {
		// hand expiry back to the room loop; if the room has already
		// exited nobody is listening and the event is dropped
		select {
		case r.typingExpired <- userId:
		default:
		}
	})

	r.cs.stats.Incr(stats.TypingEvents)
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Typing: &TypingEvent{
			ConversationId: r.id,
			UserId:         userId,
			UserName:       msg.client.user.Name,
			Started:        true,
		},
		SkipClient: msg.client,
	})
}

// handleTypingExpired fires when a timer lapses un-refreshed.
func (r *Room) handleTypingExpired(userId string) {
	if _, ok := r.typing[userId]; !ok {
		// cancelled between firing and delivery
		return
	}

	delete(r.typing, userId)
	r.broadcastTypingStopped(userId)
}

// cancelTyping disarms the user's timer if one is armed. It is invoked from
// explicit stop signals, from the leave path when a user's last session in
// the room goes away, and from room teardown, so no timer ever outlives its
// owner.
func (r *Room) cancelTyping(userId string, notify bool) {
	timer, ok := r.typing[userId]
	if !ok {
		return
	}

	timer.Stop()
	delete(r.typing, userId)

	if notify {
		r.broadcastTypingStopped(userId)
	}
}

func (r *Room) broadcastTypingStopped(userId string) {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Typing: &TypingEvent{
			ConversationId: r.id,
			UserId:         userId,
			Started:        false,
		},
	})
}
