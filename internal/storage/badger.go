package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/real-rm/golog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
)

const (
	backendBadger = "badger"

	// sequenceBandwidth is how many ids a badger sequence leases per disk write.
	// Leased ids not handed out before a restart are skipped, never reused.
	sequenceBandwidth = 100

	// maxKeyDigits pads numeric key segments so lexicographic order equals numeric order
	maxKeyDigits = "99999999999999999999"
)

// BadgerBackend stores chat data in an embedded badger database. Keys are laid out
// so a reverse prefix scan walks a room's history newest first:
//
//	room:id:{roomID}               -> ChatRoom
//	room:group:{groupID}           -> ChatRoom
//	member:{roomID}:{memberID}     -> RoomMembership
//	msg:{roomID}:{messageID}       -> ChatMessage
//
// Numeric segments are zero padded to 20 digits. Values are BSON documents.
type BadgerBackend struct {
	db         *badger.DB
	roomSeq    *badger.Sequence
	messageSeq *badger.Sequence
	logger     *golog.Logger

	// createMu serializes get-or-create writes so concurrent callers agree on one row
	createMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// OpenBadgerBackend opens (or creates) the badger database in dir
func OpenBadgerBackend(dir string, logger *golog.Logger) (*BadgerBackend, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return NewBadgerBackend(db, logger)
}

// NewBadgerBackend wraps an open badger database. The backend owns db from here on.
func NewBadgerBackend(db *badger.DB, logger *golog.Logger) (*BadgerBackend, error) {
	roomSeq, err := db.GetSequence([]byte("seq:"+constants.CounterRoom), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("failed to open room sequence: %w", err)
	}
	messageSeq, err := db.GetSequence([]byte("seq:"+constants.CounterMessage), sequenceBandwidth)
	if err != nil {
		_ = roomSeq.Release()
		return nil, fmt.Errorf("failed to open message sequence: %w", err)
	}

	return &BadgerBackend{
		db:         db,
		roomSeq:    roomSeq,
		messageSeq: messageSeq,
		logger:     logger.WithGroup("storage"),
	}, nil
}

func roomKey(roomID chat.RoomID) []byte {
	return []byte(fmt.Sprintf("room:id:%020d", roomID))
}

func groupKey(groupID chat.GroupID) []byte {
	return []byte(fmt.Sprintf("room:group:%020d", groupID))
}

func memberKey(roomID chat.RoomID, memberID chat.MemberID) []byte {
	return []byte(fmt.Sprintf("member:%020d:%020d", roomID, memberID))
}

func messagePrefix(roomID chat.RoomID) []byte {
	return []byte(fmt.Sprintf("msg:%020d:", roomID))
}

func messageKey(roomID chat.RoomID, messageID chat.MessageID) []byte {
	return []byte(fmt.Sprintf("msg:%020d:%020d", roomID, messageID))
}

// Name identifies the backend
func (b *BadgerBackend) Name() string {
	return backendBadger
}

// next returns the next id of seq. Badger sequences start at zero; ids start at one.
func next(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// update runs fn in a read-write transaction, retrying on transaction conflicts
func (b *BadgerBackend) update(ctx context.Context, operation string, fn func(txn *badger.Txn) error) error {
	return retryOperation(ctx, b.logger, operation, func() error {
		return b.db.Update(fn)
	})
}

func getDocument(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return bson.Unmarshal(val, out)
	})
}

func setDocument(txn *badger.Txn, key []byte, doc interface{}) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return txn.Set(key, data)
}

// CreateRoom returns the room of groupID, creating it when absent
func (b *BadgerBackend) CreateRoom(ctx context.Context, groupID chat.GroupID) (*chat.ChatRoom, bool, error) {
	defer observe(backendBadger, "create_room", time.Now())

	b.createMu.Lock()
	defer b.createMu.Unlock()

	var room chat.ChatRoom
	created := false
	err := b.update(ctx, "CreateRoom", func(txn *badger.Txn) error {
		created = false
		err := getDocument(txn, groupKey(groupID), &room)
		// No else needed: early return pattern (guard clause)
		if err == nil {
			return nil
		}
		// No else needed: early return pattern (guard clause)
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		id, err := next(b.roomSeq)
		if err != nil {
			return fmt.Errorf("failed to advance room sequence: %w", err)
		}
		room = chat.ChatRoom{
			ID:        chat.RoomID(id),
			GroupID:   groupID,
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		if err := setDocument(txn, roomKey(room.ID), &room); err != nil {
			return err
		}
		created = true
		return setDocument(txn, groupKey(groupID), &room)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create room: %w", err)
	}
	return &room, created, nil
}

// FindRoom returns the room with roomID
func (b *BadgerBackend) FindRoom(_ context.Context, roomID chat.RoomID) (*chat.ChatRoom, error) {
	return b.findRoom(roomKey(roomID))
}

// FindRoomByGroup returns the room of groupID
func (b *BadgerBackend) FindRoomByGroup(_ context.Context, groupID chat.GroupID) (*chat.ChatRoom, error) {
	return b.findRoom(groupKey(groupID))
}

func (b *BadgerBackend) findRoom(key []byte) (*chat.ChatRoom, error) {
	defer observe(backendBadger, "find_room", time.Now())

	var room chat.ChatRoom
	err := b.db.View(func(txn *badger.Txn) error {
		return getDocument(txn, key, &room)
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// AddMember stores the membership unless it already exists
func (b *BadgerBackend) AddMember(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) (*chat.RoomMembership, error) {
	defer observe(backendBadger, "add_member", time.Now())

	b.createMu.Lock()
	defer b.createMu.Unlock()

	var membership chat.RoomMembership
	err := b.update(ctx, "AddMember", func(txn *badger.Txn) error {
		key := memberKey(roomID, memberID)
		err := getDocument(txn, key, &membership)
		// No else needed: early return pattern (guard clause)
		if err == nil {
			return nil
		}
		// No else needed: early return pattern (guard clause)
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		membership = chat.RoomMembership{
			RoomID:   roomID,
			MemberID: memberID,
			JoinedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		return setDocument(txn, key, &membership)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return &membership, nil
}

// RemoveMember deletes the membership; ErrNotFound if there was none
func (b *BadgerBackend) RemoveMember(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) error {
	defer observe(backendBadger, "remove_member", time.Now())

	return b.update(ctx, "RemoveMember", func(txn *badger.Txn) error {
		key := memberKey(roomID, memberID)
		_, err := txn.Get(key)
		if err != nil {
			// No else needed: early return pattern (guard clause)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// FindMembership returns the membership of memberID in roomID
func (b *BadgerBackend) FindMembership(_ context.Context, roomID chat.RoomID, memberID chat.MemberID) (*chat.RoomMembership, error) {
	var membership chat.RoomMembership
	err := b.db.View(func(txn *badger.Txn) error {
		return getDocument(txn, memberKey(roomID, memberID), &membership)
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// InsertMessage assigns the next message id and stores msg
func (b *BadgerBackend) InsertMessage(ctx context.Context, msg *chat.ChatMessage) error {
	defer observe(backendBadger, "insert_message", time.Now())

	id, err := next(b.messageSeq)
	if err != nil {
		return fmt.Errorf("failed to advance message sequence: %w", err)
	}
	msg.ID = chat.MessageID(id)

	err = b.update(ctx, "InsertMessage", func(txn *badger.Txn) error {
		return setDocument(txn, messageKey(msg.RoomID, msg.ID), msg)
	})
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindMessages walks the room prefix in reverse from the cursor (inclusive) or
// from the newest message, skipping soft-deleted entries.
func (b *BadgerBackend) FindMessages(_ context.Context, roomID chat.RoomID, cursor *chat.MessageID, limit int) ([]*chat.ChatMessage, error) {
	defer observe(backendBadger, "find_messages", time.Now())

	messages := make([]*chat.ChatMessage, 0, limit)
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(roomID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			seekKey = append(append([]byte{}, prefix...), maxKeyDigits...)
		default:
			seekKey = messageKey(roomID, *cursor)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			var msg chat.ChatMessage
			err := it.Item().Value(func(val []byte) error {
				return bson.Unmarshal(val, &msg)
			})
			if err != nil {
				return fmt.Errorf("failed to decode message %s: %w", it.Item().Key(), err)
			}
			// No else needed: optional operation (skip soft-deleted)
			if msg.IsDeleted() {
				continue
			}
			messages = append(messages, &msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SoftDeleteMessage stamps DeletedAt on a live message
func (b *BadgerBackend) SoftDeleteMessage(ctx context.Context, roomID chat.RoomID, messageID chat.MessageID, at time.Time) error {
	defer observe(backendBadger, "soft_delete_message", time.Now())

	return b.update(ctx, "SoftDeleteMessage", func(txn *badger.Txn) error {
		key := messageKey(roomID, messageID)
		var msg chat.ChatMessage
		if err := getDocument(txn, key, &msg); err != nil {
			return err
		}
		// No else needed: early return pattern (guard clause)
		if msg.IsDeleted() {
			return ErrNotFound
		}
		deletedAt := at.UTC().Truncate(time.Millisecond)
		msg.DeletedAt = &deletedAt
		return setDocument(txn, key, &msg)
	})
}

// Ping reports whether the database is open
func (b *BadgerBackend) Ping(_ context.Context) error {
	// No else needed: early return pattern (guard clause)
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close releases the sequences and closes the database. Later calls return the
// result of the first.
func (b *BadgerBackend) Close() error {
	b.closeOnce.Do(func() {
		var errs []error
		if err := b.roomSeq.Release(); err != nil {
			errs = append(errs, err)
		}
		if err := b.messageSeq.Release(); err != nil {
			errs = append(errs, err)
		}
		if err := b.db.Close(); err != nil {
			errs = append(errs, err)
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}
