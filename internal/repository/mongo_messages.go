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

type MongoMessageRepository struct {
	coll *mongo.Collection
}

func NewMongoMessageRepository(coll *mongo.Collection) *MongoMessageRepository {
	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("thread_created_idx"),
	}
	_, _ = coll.Indexes().CreateOne(context.Background(), ix)
	return &MongoMessageRepository{coll: coll}
}

func (r *MongoMessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$setOnInsert": m},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *MongoMessageRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var m domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessageRepository) ListByThread(ctx context.Context, threadID string) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoMessageRepository) MarkRead(ctx context.Context, id string, at time.Time) (*domain.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var m domain.Message
	err := res.Decode(&m)
	if err == nil {
		return &m, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}
	// either missing or already read
	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
