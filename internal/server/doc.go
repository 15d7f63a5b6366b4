// Package server exposes the broker over HTTP so it can be driven without
// an extension host embedding it.
//
// The surface is deliberately small: session CRUD under /session, prompt
// submission on POST /session/{id}/message with the resulting UI
// operations streamed back as SSE "op" events, a trailing "done" event
// carrying the final status, interactive permission replies on
// POST /permission/{id}, and a global SSE feed of bus events on /event.
//
// Closing a message stream mid-request cancels the request context,
// which aborts the runtime turn.
package server
