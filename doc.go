// Package chatrelay implements a two-party chat delivery pipeline: durable direct messages
// with near-real-time push to the receiver over a persistent connection.
//
// # Pipeline
//
//	sender ── Sender.Send ──► MessageStore.Append (durable)
//	                    └───► Relay.Publish("chat.<receiver_id>", MessageSent)
//	                                 └──► Hub fan-out ──► receiver connections
//
// The MessageStore is the source of truth. The Relay is a best-effort accelerator: a
// publish failure is logged and swallowed, and the receiver still finds the message in
// History.
//
// # Components
//
//   - MessageStore: append-only store with body validation, monotonic timestamps and
//     cursor-paginated History (plus a lazy Conversation iterator)
//   - ChannelAuthorizer: lets an identity subscribe only to its own channel
//     "chat.<id>" and signs short-lived HMAC grants bound to a socket id
//   - Hub: in-process relay with bounded, non-blocking per-connection buffers
//   - Sender: validate, persist, publish
//
// Persistence lives behind MessageRepository; see adapters/relica (SQL) and
// adapters/memory. The persistent transport is adapters/websocket, and adapters/redis
// links the hubs of several server nodes.
//
// # Quick Start
//
//	repos := relica.NewRepositories(db, "mysql")
//
//	store, _ := chatrelay.NewMessageStore(chatrelay.WithMessageRepository(repos.Message))
//	authorizer, _ := chatrelay.NewChannelAuthorizer(chatrelay.WithSigningKey(key, secret))
//	hub, _ := chatrelay.NewHub(chatrelay.WithHubVerifier(authorizer))
//	sender, _ := chatrelay.NewSender(
//	    chatrelay.WithSenderStore(store),
//	    chatrelay.WithSenderRelay(hub),
//	)
//
//	result, err := sender.Send(ctx, chatrelay.SendRequest{SenderID: 1, ReceiverID: 2, Body: "hi"})
//
// # Errors
//
// All errors carry a code (see Error). Use IsValidation, IsUnauthorized, IsNetwork,
// IsRelayUnavailable and IsNoData to branch on them.
package chatrelay
