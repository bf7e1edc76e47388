// Package push is the client side of the persistent event channel.
//
// One Client holds one websocket connection and fans incoming events out to
// subscribers. Views subscribe when they mount and call the returned function
// when they unmount:
//
//	unsub := push.On(c, push.EventNewMessage, push.DecodeMessageEvent, func(ev push.MessageEvent) {
//	    inbox.Receive(ev)
//	})
//	defer unsub()
//
// Frames are JSON envelopes:
//
//	{"event": "post-reaction-updated", "data": {"postId": "p1", "reactions": {...}}}
//
// Handlers run one at a time on the read goroutine, in arrival order. Run
// reconnects after a dropped connection, pacing attempts with a fixed delay,
// until its context is done. Events missed while disconnected are not replayed.
package push
