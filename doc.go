// Package interviewroom is the real-time transport of an AI mock-interview
// client.
//
// A [Client] owns the websocket of one interview room: it authenticates with a
// bearer token, keeps the socket alive with heartbeats, reconnects with
// exponential backoff and batches microphone audio into AUDIO_STREAM
// messages. Inbound messages are decoded into [Message] values and handed to
// subscribers as [Response], [Interruption] or errors. An [Arena] keeps one
// Client per room.
//
// [Interview] ties a Client to the answer store ([SessionState]), the
// [Aggregator] that turns an answer into a solution message, a narrator for
// questions and interruptions, and a microphone from package tools.
package interviewroom
