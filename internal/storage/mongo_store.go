package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/rift-server/internal/logging"
)

// MongoStore реализует KVStore поверх MongoDB.
// Снимки лежат документами {_id: ключ, payload: байты}.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore подключается к MongoDB и готовит коллекцию снимков
func NewMongoStore(uri string) (*MongoStore, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("не удалось проверить соединение с MongoDB: %w", err)
	}

	logging.Info("🍃 Подключение к MongoDB: %s", uri)
	return &MongoStore{
		client:     client,
		collection: client.Database("rift").Collection("saves"),
	}, nil
}

// Get читает значение по ключу
func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc struct {
		Payload []byte `bson:"payload"`
	}
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из MongoDB: %w", err)
	}
	return doc.Payload, true, nil
}

// Set записывает значение по ключу через upsert
func (s *MongoStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": key},
		bson.M{"_id": key, "payload": value, "updated_at": time.Now()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в MongoDB: %w", err)
	}
	return nil
}

// Delete удаляет ключ
func (s *MongoStore) Delete(ctx context.Context, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("ошибка удаления из MongoDB: %w", err)
	}
	return nil
}

// Close разрывает соединение
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
