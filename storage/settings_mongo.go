package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const settingsCollection = "user_settings"

// MongoSettings persists per-user settings, sharing the client of the
// ledger storage.
type MongoSettings struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *slog.Logger
}

func NewMongoSettings(client *mongo.Client, database string, log *slog.Logger) (*MongoSettings, error) {
	collection := client.Database(database).Collection(settingsCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("creating settings index", slog.String("error", err.Error()))
	}

	return &MongoSettings{
		client:     client,
		collection: collection,
		log:        log,
	}, nil
}

func (m *MongoSettings) GetSettings(userID int64) (Settings, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var doc struct {
		Settings `bson:",inline"`
	}
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return DefaultSettings(), nil
	}
	if err != nil {
		return DefaultSettings(), fmt.Errorf("finding settings: %w", err)
	}

	s := doc.Settings
	if s.Model == "" {
		s.Model = DefaultSettings().Model
	}
	if s.AspectRatio == "" {
		s.AspectRatio = DefaultSettings().AspectRatio
	}
	if s.Resolution == "" {
		s.Resolution = DefaultSettings().Resolution
	}
	if s.ImagesPerRequest == 0 {
		s.ImagesPerRequest = 1
	}
	return s, nil
}

func (m *MongoSettings) UpdateSettings(userID int64, patch SettingsPatch) error {
	fields := bson.M{}
	if patch.Model != nil {
		fields["model"] = *patch.Model
	}
	if patch.AspectRatio != nil {
		fields["aspect_ratio"] = *patch.AspectRatio
	}
	if patch.Resolution != nil {
		fields["resolution"] = *patch.Resolution
	}
	if patch.ImagesPerRequest != nil {
		fields["images_per_prompt"] = ClampImageCount(*patch.ImagesPerRequest)
	}
	if len(fields) == 0 {
		return nil
	}

	ctx, cancel := opCtx()
	defer cancel()

	defaults := DefaultSettings()
	onInsert := bson.M{"user_id": userID}
	if _, ok := fields["model"]; !ok {
		onInsert["model"] = defaults.Model
	}
	if _, ok := fields["aspect_ratio"]; !ok {
		onInsert["aspect_ratio"] = defaults.AspectRatio
	}
	if _, ok := fields["resolution"]; !ok {
		onInsert["resolution"] = defaults.Resolution
	}
	if _, ok := fields["images_per_prompt"]; !ok {
		onInsert["images_per_prompt"] = defaults.ImagesPerRequest
	}

	opts := options.Update().SetUpsert(true)
	_, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
		"$set":         fields,
		"$setOnInsert": onInsert,
	}, opts)
	return err
}

func (m *MongoSettings) Close() error {
	// The shared client is closed by the ledger storage.
	return nil
}
