package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	accountsCollection = "accounts"
	usageCollection    = "model_usage"
	logCollection      = "generation_log"
)

type MongoStorage struct {
	client   *mongo.Client
	accounts *mongo.Collection
	usage    *mongo.Collection
	genLog   *mongo.Collection
	log      *slog.Logger
	now      func() time.Time
}

func NewMongoStorage(uri, database string, log *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(database)
	m := &MongoStorage{
		client:   client,
		accounts: db.Collection(accountsCollection),
		usage:    db.Collection(usageCollection),
		genLog:   db.Collection(logCollection),
		log:      log,
		now:      time.Now,
	}

	// Indexes back the per-user lookups and the window queries on the
	// generation log.
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.accounts, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.usage, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "model", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.genLog, mongo.IndexModel{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "model", Value: 1}, {Key: "created_at", Value: 1}},
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			log.Warn("creating index", slog.String("error", err.Error()))
		}
	}

	return m, nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// ensureAccount upserts the account document so later updates can assume
// it exists.
func (m *MongoStorage) ensureAccount(ctx context.Context, userID int64) error {
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":        userID,
			"plan":           PlanFree,
			"credit_balance": 0,
			"used_today":     0,
			"last_reset":     LogicalDay(m.now()),
			"created_at":     m.now(),
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := m.accounts.UpdateOne(ctx, bson.M{"user_id": userID}, update, opts)
	return err
}

func (m *MongoStorage) GetOrCreateAccount(userID int64) (*Account, error) {
	ctx, cancel := opCtx()
	defer cancel()

	if err := m.ensureAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensuring account: %w", err)
	}

	var acc Account
	if err := m.accounts.FindOne(ctx, bson.M{"user_id": userID}).Decode(&acc); err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}

	if today := LogicalDay(m.now()); acc.LastReset.Before(today) {
		_, err := m.accounts.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
			"$set": bson.M{"used_today": 0, "last_reset": today},
		})
		if err != nil {
			return nil, fmt.Errorf("resetting daily usage: %w", err)
		}
		acc.UsedToday = 0
		acc.LastReset = today
	}

	return &acc, nil
}

// DebitCredits decrements the balance with a filtered update, so the
// balance check and the decrement are one atomic operation even under
// concurrent debits for the same account.
func (m *MongoStorage) DebitCredits(userID int64, amount int) error {
	if amount <= 0 {
		return nil
	}
	ctx, cancel := opCtx()
	defer cancel()

	if err := m.ensureAccount(ctx, userID); err != nil {
		return fmt.Errorf("ensuring account: %w", err)
	}

	filter := bson.M{
		"user_id":        userID,
		"credit_balance": bson.M{"$gte": amount},
	}
	res, err := m.accounts.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"credit_balance": -amount},
	})
	if err != nil {
		return fmt.Errorf("debiting credits: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

func (m *MongoStorage) CreditCredits(userID int64, amount int) error {
	if amount <= 0 {
		return nil
	}
	ctx, cancel := opCtx()
	defer cancel()

	if err := m.ensureAccount(ctx, userID); err != nil {
		return fmt.Errorf("ensuring account: %w", err)
	}
	_, err := m.accounts.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
		"$inc": bson.M{"credit_balance": amount},
	})
	return err
}

func (m *MongoStorage) SetPlan(userID int64, plan string, expiresAt *time.Time) error {
	ctx, cancel := opCtx()
	defer cancel()

	if err := m.ensureAccount(ctx, userID); err != nil {
		return fmt.Errorf("ensuring account: %w", err)
	}
	update := bson.M{"plan": plan}
	if expiresAt != nil {
		update["expires_at"] = *expiresAt
	}
	_, err := m.accounts.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": update})
	return err
}

func (m *MongoStorage) SetUsername(userID int64, username string) error {
	ctx, cancel := opCtx()
	defer cancel()

	if err := m.ensureAccount(ctx, userID); err != nil {
		return fmt.Errorf("ensuring account: %w", err)
	}
	_, err := m.accounts.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
		"$set": bson.M{"username": username},
	})
	return err
}

func (m *MongoStorage) SetReferrer(userID int64, referrerID int64) error {
	if userID == referrerID {
		return nil
	}
	ctx, cancel := opCtx()
	defer cancel()

	if err := m.ensureAccount(ctx, userID); err != nil {
		return fmt.Errorf("ensuring account: %w", err)
	}
	// Only set when no referrer has been recorded yet.
	filter := bson.M{
		"user_id": userID,
		"$or": []bson.M{
			{"referrer_id": bson.M{"$exists": false}},
			{"referrer_id": 0},
		},
	}
	_, err := m.accounts.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"referrer_id": referrerID},
	})
	return err
}

func (m *MongoStorage) RecordUsage(userID int64, model string) error {
	ctx, cancel := opCtx()
	defer cancel()

	if err := m.ensureAccount(ctx, userID); err != nil {
		return fmt.Errorf("ensuring account: %w", err)
	}
	if _, err := m.accounts.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
		"$inc": bson.M{"used_today": 1},
	}); err != nil {
		return fmt.Errorf("incrementing daily usage: %w", err)
	}

	opts := options.Update().SetUpsert(true)
	_, err := m.usage.UpdateOne(ctx,
		bson.M{"user_id": userID, "model": model},
		bson.M{"$inc": bson.M{"total_used": 1}},
		opts,
	)
	return err
}

func (m *MongoStorage) ModelUsage(userID int64) (map[string]int, error) {
	ctx, cancel := opCtx()
	defer cancel()

	cursor, err := m.usage.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("finding model usage: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			m.log.Warn("closing usage cursor", slog.String("error", err.Error()))
		}
	}()

	usage := map[string]int{"flash": 0, "pro": 0}
	for cursor.Next(ctx) {
		var row struct {
			Model     string `bson:"model"`
			TotalUsed int    `bson:"total_used"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decoding usage row: %w", err)
		}
		usage[row.Model] = row.TotalUsed
	}
	return usage, cursor.Err()
}

func (m *MongoStorage) AppendGenerationLog(userID int64, model string, at time.Time) error {
	ctx, cancel := opCtx()
	defer cancel()

	_, err := m.genLog.InsertOne(ctx, GenerationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Model:     model,
		CreatedAt: at,
	})
	return err
}

func (m *MongoStorage) CountUsageInWindow(userID int64, model string, start, end time.Time) (int, error) {
	ctx, cancel := opCtx()
	defer cancel()

	n, err := m.genLog.CountDocuments(ctx, bson.M{
		"user_id":    userID,
		"model":      model,
		"created_at": bson.M{"$gte": start, "$lt": end},
	})
	if err != nil {
		return 0, fmt.Errorf("counting generation log: %w", err)
	}
	return int(n), nil
}

func (m *MongoStorage) Close() error {
	ctx, cancel := opCtx()
	defer cancel()
	return m.client.Disconnect(ctx)
}

// Client returns the MongoDB client for sharing with other storages
func (m *MongoStorage) Client() *mongo.Client {
	return m.client
}

// Database returns the database name
func (m *MongoStorage) Database() string {
	return m.accounts.Database().Name()
}
