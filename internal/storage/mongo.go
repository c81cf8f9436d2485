package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
)

const backendMongo = "mongo"

// MongoBackend stores chat data in MongoDB using gomongo
type MongoBackend struct {
	mongo       *gomongo.Mongo
	rooms       *gomongo.MongoCollection
	memberships *gomongo.MongoCollection
	messages    *gomongo.MongoCollection
	counters    *gomongo.MongoCollection
	logger      *golog.Logger
}

// counterDocument is the atomic sequence document of one counter
type counterDocument struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// NewMongoBackend creates a MongoDB backend over the collections of dbName
// mongo: gomongo.Mongo instance (from gomongo.InitMongoDB)
func NewMongoBackend(mongo *gomongo.Mongo, dbName string, logger *golog.Logger) *MongoBackend {
	return &MongoBackend{
		mongo:       mongo,
		rooms:       mongo.Coll(dbName, constants.CollectionRooms),
		memberships: mongo.Coll(dbName, constants.CollectionMemberships),
		messages:    mongo.Coll(dbName, constants.CollectionMessages),
		counters:    mongo.Coll(dbName, constants.CollectionCounters),
		logger:      logger.WithGroup("storage"),
	}
}

// Name identifies the backend
func (b *MongoBackend) Name() string {
	return backendMongo
}

// EnsureIndexes creates the unique room-per-group index, the unique membership
// index and the room history index. Call it during initialization.
func (b *MongoBackend) EnsureIndexes(ctx context.Context) error {
	roomGroupIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: constants.MongoFieldGroupID, Value: 1}},
		Options: options.Index().SetName(constants.IndexRoomGroup).SetUnique(true),
	}
	// No else needed: early return pattern (guard clause)
	if _, err := b.rooms.CreateIndexes(ctx, []mongo.IndexModel{roomGroupIndex}); err != nil {
		return fmt.Errorf("failed to create room indexes: %w", err)
	}

	membershipIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: constants.MongoFieldRoomID, Value: 1},
			{Key: constants.MongoFieldMemberID, Value: 1},
		},
		Options: options.Index().SetName(constants.IndexMembership).SetUnique(true),
	}
	// No else needed: early return pattern (guard clause)
	if _, err := b.memberships.CreateIndexes(ctx, []mongo.IndexModel{membershipIndex}); err != nil {
		return fmt.Errorf("failed to create membership indexes: %w", err)
	}

	historyIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: constants.MongoFieldRoomID, Value: 1},
			{Key: constants.MongoFieldID, Value: -1},
		},
		Options: options.Index().SetName(constants.IndexMessageRoomID),
	}
	// No else needed: early return pattern (guard clause)
	if _, err := b.messages.CreateIndexes(ctx, []mongo.IndexModel{historyIndex}); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	b.logger.Info("MongoDB indexes created successfully",
		"indexes", []string{constants.IndexRoomGroup, constants.IndexMembership, constants.IndexMessageRoomID},
	)
	return nil
}

// nextSequence atomically increments and returns the named counter
func (b *MongoBackend) nextSequence(ctx context.Context, name string) (int64, error) {
	filter := bson.M{constants.MongoFieldID: name}
	update := bson.M{"$inc": bson.M{constants.MongoFieldSeq: int64(1)}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc counterDocument
	err := retryOperation(ctx, b.logger, "nextSequence", func() error {
		return b.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", name, err)
	}
	return doc.Seq, nil
}

// CreateRoom returns the room of groupID, creating it when absent. Concurrent
// creations race on the unique group index and the loser reads the winner's room.
func (b *MongoBackend) CreateRoom(ctx context.Context, groupID chat.GroupID) (*chat.ChatRoom, bool, error) {
	defer observe(backendMongo, "create_room", time.Now())

	existing, err := b.FindRoomByGroup(ctx, groupID)
	// No else needed: early return pattern (guard clause)
	if err == nil {
		return existing, false, nil
	}
	// No else needed: early return pattern (guard clause)
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	id, err := b.nextSequence(ctx, constants.CounterRoom)
	if err != nil {
		return nil, false, err
	}

	room := &chat.ChatRoom{
		ID:        chat.RoomID(id),
		GroupID:   groupID,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	err = retryOperation(ctx, b.logger, "CreateRoom", func() error {
		_, opErr := b.rooms.InsertOne(ctx, room)
		return opErr
	})
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if mongo.IsDuplicateKeyError(err) {
			existing, findErr := b.FindRoomByGroup(ctx, groupID)
			return existing, false, findErr
		}
		return nil, false, fmt.Errorf("failed to create room: %w", err)
	}

	return room, true, nil
}

// FindRoom returns the room with roomID
func (b *MongoBackend) FindRoom(ctx context.Context, roomID chat.RoomID) (*chat.ChatRoom, error) {
	return b.findRoom(ctx, bson.M{constants.MongoFieldID: int64(roomID)})
}

// FindRoomByGroup returns the room of groupID
func (b *MongoBackend) FindRoomByGroup(ctx context.Context, groupID chat.GroupID) (*chat.ChatRoom, error) {
	return b.findRoom(ctx, bson.M{constants.MongoFieldGroupID: int64(groupID)})
}

func (b *MongoBackend) findRoom(ctx context.Context, filter bson.M) (*chat.ChatRoom, error) {
	defer observe(backendMongo, "find_room", time.Now())

	var room chat.ChatRoom
	err := retryOperation(ctx, b.logger, "FindRoom", func() error {
		return b.rooms.FindOne(ctx, filter).Decode(&room)
	})
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return &room, nil
}

// AddMember inserts the membership, returning the existing one on a duplicate join
func (b *MongoBackend) AddMember(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) (*chat.RoomMembership, error) {
	defer observe(backendMongo, "add_member", time.Now())

	membership := &chat.RoomMembership{
		RoomID:   roomID,
		MemberID: memberID,
		JoinedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	err := retryOperation(ctx, b.logger, "AddMember", func() error {
		_, opErr := b.memberships.InsertOne(ctx, membership)
		return opErr
	})
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if mongo.IsDuplicateKeyError(err) {
			return b.FindMembership(ctx, roomID, memberID)
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return membership, nil
}

// RemoveMember deletes the membership; ErrNotFound if there was none
func (b *MongoBackend) RemoveMember(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) error {
	defer observe(backendMongo, "remove_member", time.Now())

	filter := membershipFilter(roomID, memberID)
	var result *mongo.DeleteResult
	err := retryOperation(ctx, b.logger, "RemoveMember", func() error {
		var opErr error
		result, opErr = b.memberships.DeleteOne(ctx, filter)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// FindMembership returns the membership of memberID in roomID
func (b *MongoBackend) FindMembership(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) (*chat.RoomMembership, error) {
	var membership chat.RoomMembership
	err := retryOperation(ctx, b.logger, "FindMembership", func() error {
		return b.memberships.FindOne(ctx, membershipFilter(roomID, memberID)).Decode(&membership)
	})
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return &membership, nil
}

func membershipFilter(roomID chat.RoomID, memberID chat.MemberID) bson.M {
	return bson.M{
		constants.MongoFieldRoomID:   int64(roomID),
		constants.MongoFieldMemberID: int64(memberID),
	}
}

// insertOnce runs insert with retries. The document id is fixed before the first
// attempt, so a duplicate key on a later attempt means an earlier attempt was
// stored and only its reply was lost.
func insertOnce(ctx context.Context, logger *golog.Logger, cfg retryConfig, operation string, insert func() error) error {
	attempts := 0
	return retryWithConfig(ctx, logger, cfg, operation, func() error {
		attempts++
		err := insert()
		// No else needed: optional operation (earlier attempt already stored)
		if attempts > 1 && mongo.IsDuplicateKeyError(err) {
			logger.Info("Insert already applied by an earlier attempt",
				"operation", operation,
				"attempt", attempts)
			return nil
		}
		return err
	})
}

// InsertMessage assigns the next message id and stores msg
func (b *MongoBackend) InsertMessage(ctx context.Context, msg *chat.ChatMessage) error {
	defer observe(backendMongo, "insert_message", time.Now())

	id, err := b.nextSequence(ctx, constants.CounterMessage)
	if err != nil {
		return err
	}
	msg.ID = chat.MessageID(id)

	err = insertOnce(ctx, b.logger, defaultRetryConfig, "InsertMessage", func() error {
		_, opErr := b.messages.InsertOne(ctx, msg)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindMessages returns a descending page of the room's non-deleted messages
func (b *MongoBackend) FindMessages(ctx context.Context, roomID chat.RoomID, cursor *chat.MessageID, limit int) ([]*chat.ChatMessage, error) {
	defer observe(backendMongo, "find_messages", time.Now())

	filter := bson.M{
		constants.MongoFieldRoomID:    int64(roomID),
		constants.MongoFieldDeletedAt: nil,
	}
	// No else needed: optional operation (only bound when a cursor is given)
	if cursor != nil {
		filter[constants.MongoFieldID] = bson.M{"$lte": int64(*cursor)}
	}

	queryOpts := gomongo.QueryOptions{
		Sort:  bson.D{{Key: constants.MongoFieldID, Value: -1}},
		Limit: int64(limit),
	}

	cur, err := b.messages.Find(ctx, filter, queryOpts)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cur.Close(ctx)

	messages := make([]*chat.ChatMessage, 0, limit)
	for cur.Next(ctx) {
		var msg chat.ChatMessage
		if err := cur.Decode(&msg); err != nil {
			return nil, fmt.Errorf("failed to decode message document: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return messages, nil
}

// SoftDeleteMessage stamps deletedAt on a live message
func (b *MongoBackend) SoftDeleteMessage(ctx context.Context, roomID chat.RoomID, messageID chat.MessageID, at time.Time) error {
	defer observe(backendMongo, "soft_delete_message", time.Now())

	filter := bson.M{
		constants.MongoFieldID:        int64(messageID),
		constants.MongoFieldRoomID:    int64(roomID),
		constants.MongoFieldDeletedAt: nil,
	}
	update := bson.M{"$set": bson.M{constants.MongoFieldDeletedAt: at}}

	var result *mongo.UpdateResult
	err := retryOperation(ctx, b.logger, "SoftDeleteMessage", func() error {
		var opErr error
		result, opErr = b.messages.UpdateOne(ctx, filter, update)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks MongoDB connectivity
func (b *MongoBackend) Ping(ctx context.Context) error {
	return b.rooms.Ping(ctx)
}

// Close is a no-op; the gomongo client is owned by the caller
func (b *MongoBackend) Close() error {
	return nil
}
