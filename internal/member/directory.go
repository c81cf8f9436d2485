// Package member resolves sender identities for chat messages. Members and their
// profile images are owned by the wider platform; this package only reads them.
package member

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
	chaterrors "github.com/real-rm/meetupchat/internal/errors"
	"github.com/real-rm/meetupchat/internal/metrics"
)

// Directory looks up members by id. Implementations return a NOT_FOUND ChatError
// for unknown ids.
type Directory interface {
	FindMember(ctx context.Context, id chat.MemberID) (*chat.Member, error)
}

// memberDocument is the subset of the platform member document read here
type memberDocument struct {
	ID       int64  `bson:"_id"`
	Nickname string `bson:"nickname"`
}

// imageDocument is one uploaded profile image of a member
type imageDocument struct {
	MemberID  int64     `bson:"memberId"`
	URL       string    `bson:"url"`
	CreatedAt time.Time `bson:"createdAt"`
}

// MongoDirectory reads members and their latest profile image from MongoDB
type MongoDirectory struct {
	members *gomongo.MongoCollection
	images  *gomongo.MongoCollection
	logger  *golog.Logger
}

// NewMongoDirectory creates a directory over the members collections of dbName
func NewMongoDirectory(mongo *gomongo.Mongo, dbName string, logger *golog.Logger) *MongoDirectory {
	return &MongoDirectory{
		members: mongo.Coll(dbName, constants.CollectionMembers),
		images:  mongo.Coll(dbName, constants.CollectionAvatars),
		logger:  logger.WithGroup("member-directory"),
	}
}

// EnsureIndexes creates the image lookup index
func (d *MongoDirectory) EnsureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: constants.MongoFieldMemberID, Value: 1},
			{Key: "createdAt", Value: -1},
		},
		Options: options.Index().SetName(constants.IndexAvatarMemberID),
	}
	// No else needed: early return pattern (guard clause)
	if _, err := d.images.CreateIndexes(ctx, []mongo.IndexModel{index}); err != nil {
		return fmt.Errorf("failed to create member image index: %w", err)
	}
	return nil
}

// FindMember returns the member with id and the URL of their most recent image.
// A member without images has a nil ImageURL.
func (d *MongoDirectory) FindMember(ctx context.Context, id chat.MemberID) (*chat.Member, error) {
	defer func(start time.Time) {
		metrics.StoreOperationDuration.WithLabelValues("mongo", "find_member").Observe(time.Since(start).Seconds())
	}(time.Now())

	var doc memberDocument
	err := d.members.FindOne(ctx, bson.M{constants.MongoFieldID: int64(id)}).Decode(&doc)
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chaterrors.ErrNotFound("member", err)
		}
		return nil, fmt.Errorf("failed to find member %d: %w", id, err)
	}

	member := &chat.Member{
		ID:       chat.MemberID(doc.ID),
		Nickname: doc.Nickname,
	}

	url, err := d.latestImage(ctx, id)
	if err != nil {
		// The image is decoration; a failed lookup degrades to no image.
		d.logger.Warn("Failed to load member image", "member_id", id, "error", err)
		return member, nil
	}
	member.ImageURL = url
	return member, nil
}

func (d *MongoDirectory) latestImage(ctx context.Context, id chat.MemberID) (*string, error) {
	queryOpts := gomongo.QueryOptions{
		Sort:  bson.D{{Key: "createdAt", Value: -1}},
		Limit: 1,
	}
	cur, err := d.images.Find(ctx, bson.M{constants.MongoFieldMemberID: int64(id)}, queryOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	// No else needed: early return pattern (guard clause)
	if !cur.Next(ctx) {
		return nil, cur.Err()
	}
	var img imageDocument
	if err := cur.Decode(&img); err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if img.URL == "" {
		return nil, nil
	}
	return &img.URL, nil
}
