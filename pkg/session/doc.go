// Package session holds the client-side state of a streaming chat UI.
//
// Ownership model:
//   - Store is the single writer for all session state. Readers get copies,
//     and every mutation is announced through a ChangePublisher so views
//     repaint instead of polling.
//   - StreamClient owns at most one exchange per conversation: it opens the
//     network stream, feeds decoded events into the Store, and treats
//     cancellation as a normal outcome, never an error.
//   - Service composes both over a chat API client, adds blocking sends and
//     the quick-chat slot, and reconciles optimistic state against the server
//     after every completed exchange.
//
// Recommended setup:
//   - Build a Store with NewStore, passing WithChangePublisher(NewNotifier(...))
//     to observe changes (optionally mirrored to Redis Streams).
//   - Build a Service with NewService around a chatapi.Client.
//   - Drive it with LoadConversations/SendStream/CancelStream; subscribe to
//     the notifier's topic to repaint on every change.
package session
