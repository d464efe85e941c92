package chat

import (
	"context"

	"go.uber.org/zap"

	"chatcore/internal/domain"
)

// Dispatcher is the central coordination point of the core: it runs the
// send pipeline, drives sent -> delivered -> read transitions from real
// session presence, and fans events out to subscribed sessions.
//
// Delivery is at-least-once: if fan-out to a session fails the message is
// still durable and a reconnecting client resynchronizes via the cursor
// API; clients deduplicate by message id.
type Dispatcher struct {
	store     *MessageService
	directory *Directory
	presence  *PresenceTracker
	typing    *TypingCoordinator
	roster    Roster
	sink      Sink
	locks     *KeyedMutex
	logger    *zap.Logger
}

func NewDispatcher(
	store *MessageService,
	directory *Directory,
	presence *PresenceTracker,
	typing *TypingCoordinator,
	roster Roster,
	sink Sink,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:     store,
		directory: directory,
		presence:  presence,
		typing:    typing,
		roster:    roster,
		sink:      sink,
		locks:     NewKeyedMutex(),
		logger:    logger,
	}
}

// Send runs the full send pipeline for one message: append to the store,
// clear the sender's typing state, touch conversation activity, then per
// recipient decide between immediate delivery (and read, when they are
// actively viewing) and an unread increment. The conversation's lock is
// held across append and fan-out so viewers observe messages in append
// order.
func (d *Dispatcher) Send(ctx context.Context, conversationID, senderID int64, content string) (*MessageView, error) {
	d.locks.Lock(conversationID)
	defer d.locks.Unlock(conversationID)

	msg, err := d.store.Append(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}

	// Sending implies the typist stopped typing, regardless of the timer.
	d.typing.ClearOnSend(conversationID, senderID)

	if err := d.directory.TouchActivity(ctx, conversationID, msg.CreatedAt); err != nil {
		d.logger.Error("touch activity", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}

	participantIDs, err := d.directory.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	view := d.store.View(ctx, msg)
	d.sink.SendToUsers(participantIDs, MessageEvent(view))

	for _, uid := range participantIDs {
		if uid == senderID {
			continue
		}
		switch {
		case d.roster.IsViewing(conversationID, uid):
			// Actively viewing: delivered and read collapse into one causal
			// step, and the unread counter stays untouched.
			updated, changed, err := d.store.MarkRead(ctx, msg.ID, uid)
			if err != nil {
				d.logger.Error("mark read on send", zap.Int64("message_id", msg.ID), zap.Error(err))
				continue
			}
			if changed {
				d.sink.SendToUsers(participantIDs, MessageStatusEvent(conversationID, msg.ID, updated.Status))
				view.Status = updated.Status
			}
		case d.presence.IsOnline(uid):
			updated, changed, err := d.store.MarkDelivered(ctx, msg.ID, uid)
			if err != nil {
				d.logger.Error("mark delivered on send", zap.Int64("message_id", msg.ID), zap.Error(err))
				continue
			}
			if changed {
				d.sink.SendToUsers(participantIDs, MessageStatusEvent(conversationID, msg.ID, updated.Status))
				view.Status = updated.Status
			}
			d.bumpUnread(ctx, conversationID, uid)
		default:
			// Offline: status stays sent until they next connect or view.
			d.bumpUnread(ctx, conversationID, uid)
		}
	}

	return view, nil
}

// MarkRead handles a client's mark-read intent for a conversation: clears
// their unread counter and promotes every lagging message to read.
func (d *Dispatcher) MarkRead(ctx context.Context, conversationID, userID int64) error {
	isParticipant, err := d.directory.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !isParticipant {
		return domain.ErrForbidden
	}

	d.locks.Lock(conversationID)
	defer d.locks.Unlock(conversationID)

	if err := d.directory.ClearUnread(ctx, conversationID, userID); err != nil {
		return err
	}
	d.sink.SendToUsers([]int64{userID}, UnreadCountEvent(conversationID, 0))

	d.promote(ctx, conversationID, userID, domain.StatusRead)
	return nil
}

// OnView is invoked when a session joins a conversation: semantically the
// same as an explicit mark-read intent.
func (d *Dispatcher) OnView(ctx context.Context, conversationID, userID int64) error {
	return d.MarkRead(ctx, conversationID, userID)
}

// OnConnect opportunistically promotes pending messages to delivered across
// all of the user's conversations when they come online.
func (d *Dispatcher) OnConnect(ctx context.Context, userID int64) {
	convs, err := d.directory.ListForUser(ctx, userID)
	if err != nil {
		d.logger.Error("list conversations on connect", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	for _, conv := range convs {
		d.locks.Lock(conv.ID)
		d.promote(ctx, conv.ID, userID, domain.StatusDelivered)
		d.locks.Unlock(conv.ID)
	}
}

// promote advances the user's lagging receipts in the conversation up to
// target and broadcasts any aggregate status changes. Caller holds the
// conversation lock.
func (d *Dispatcher) promote(ctx context.Context, conversationID, userID int64, target domain.MessageStatus) {
	ids, err := d.store.ListBehind(ctx, conversationID, userID, target)
	if err != nil {
		d.logger.Error("list lagging messages", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	participantIDs, err := d.directory.ParticipantIDs(ctx, conversationID)
	if err != nil {
		d.logger.Error("list participants", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return
	}

	for _, id := range ids {
		var (
			updated *domain.Message
			changed bool
		)
		if target == domain.StatusRead {
			updated, changed, err = d.store.MarkRead(ctx, id, userID)
		} else {
			updated, changed, err = d.store.MarkDelivered(ctx, id, userID)
		}
		if err != nil {
			d.logger.Error("promote message", zap.Int64("message_id", id), zap.Error(err))
			continue
		}
		if changed {
			d.sink.SendToUsers(participantIDs, MessageStatusEvent(conversationID, id, updated.Status))
		}
	}
}

func (d *Dispatcher) bumpUnread(ctx context.Context, conversationID, userID int64) {
	count, err := d.directory.IncrementUnread(ctx, conversationID, userID)
	if err != nil {
		d.logger.Error("increment unread", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return
	}
	d.sink.SendToUsers([]int64{userID}, UnreadCountEvent(conversationID, count))
}
