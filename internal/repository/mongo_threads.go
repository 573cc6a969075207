package repository

import (
	"context"
	"errors"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoThreadRepository struct {
	coll *mongo.Collection
}

func NewMongoThreadRepository(coll *mongo.Collection) *MongoThreadRepository {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pair_key_uniq"),
		},
		{Keys: bson.D{{Key: "user1_id", Value: 1}}, Options: options.Index().SetName("user1_idx")},
		{Keys: bson.D{{Key: "user2_id", Value: 1}}, Options: options.Index().SetName("user2_idx")},
	})
	return &MongoThreadRepository{coll: coll}
}

func (r *MongoThreadRepository) FindOrCreate(ctx context.Context, t *domain.Thread) (*domain.Thread, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if t.UnreadCounts == nil {
		t.UnreadCounts = map[string]int{}
	}
	t.PairKey = domain.PairKey(t.User1ID, t.User2ID)

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"pair_key": t.PairKey},
		bson.M{"$setOnInsert": t},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, false, err
	}
	created := res != nil && res.UpsertedCount == 1

	var stored domain.Thread
	if err := r.coll.FindOne(ctx, bson.M{"pair_key": t.PairKey}).Decode(&stored); err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (r *MongoThreadRepository) Get(ctx context.Context, id string) (*domain.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var t domain.Thread
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *MongoThreadRepository) ListForUser(ctx context.Context, userID string) ([]domain.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"$or": []bson.M{{"user1_id": userID}, {"user2_id": userID}}}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Thread{}
	for cur.Next(ctx) {
		var t domain.Thread
		if err := cur.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cur.Err()
}

func (r *MongoThreadRepository) ApplyMessage(ctx context.Context, threadID, recipientID string, lm LastMessage) (*domain.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"last_message":              lm.Content,
			"last_message_sender_id":    lm.SenderID,
			"last_message_sender_name":  lm.SenderName,
			"last_message_sender_image": lm.SenderImage,
			"last_message_file_url":     lm.FileURL,
			"last_message_mime_type":    lm.MimeType,
			"last_message_at":           lm.At,
			"updated_at":                lm.At,
		},
		"$inc": bson.M{"unread_counts." + recipientID: 1},
	}
	return r.findOneAndUpdate(ctx, threadID, update)
}

func (r *MongoThreadRepository) ClearUnread(ctx context.Context, threadID, userID string) (*domain.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.findOneAndUpdate(ctx, threadID, bson.M{"$set": bson.M{"unread_counts." + userID: 0}})
}

func (r *MongoThreadRepository) findOneAndUpdate(ctx context.Context, threadID string, update bson.M) (*domain.Thread, error) {
	res := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": threadID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var t domain.Thread
	if err := res.Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
