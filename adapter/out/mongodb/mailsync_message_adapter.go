package mongodb

import (
	"context"
	"errors"
	"fmt"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// legacyServerIDIndex was unique on (account, server_id). Server ids are
// reused after a UIDVALIDITY reset, a folder fallback or POP3 renumbering,
// so only _id is unique now.
const legacyServerIDIndex = "account_1_server_id_1"

// MessageAdapter implements out.MessageStore. Records are keyed by their
// deterministic id, so writing the same message twice replaces it.
type MessageAdapter struct {
	collection *mongo.Collection
}

func NewMessageAdapter(db *mongo.Database, collection string) *MessageAdapter {
	return &MessageAdapter{collection: db.Collection(collection)}
}

// EnsureIndexes creates the lookup indexes for the collection.
func (a *MessageAdapter) EnsureIndexes(ctx context.Context) error {
	if _, err := a.collection.Indexes().DropOne(ctx, legacyServerIDIndex); err != nil && !isMissingIndex(err) {
		return fmt.Errorf("failed to drop index %s: %w", legacyServerIDIndex, err)
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account", Value: 1}, {Key: "server_id", Value: 1}},
			Options: options.Index().SetName("account_server_id"),
		},
		{
			Keys: bson.D{{Key: "account", Value: 1}, {Key: "sent_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "provider_domain", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// InsertMany writes the batch in one unordered bulk request and reports
// how many records the server acknowledged. A duplicate-key write error
// means a concurrent writer stored the same record id first, so it counts
// as saved.
func (a *MessageAdapter) InsertMany(ctx context.Context, records []*domain.MessageRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		model := mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": rec.ID}).
			SetReplacement(rec).
			SetUpsert(true)
		models = append(models, model)
	}

	opts := options.BulkWrite().SetOrdered(false)
	res, err := a.collection.BulkWrite(ctx, models, opts)
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || !onlyDuplicateKeys(bwe.WriteErrors) {
			return 0, fmt.Errorf("failed to bulk write %d messages: %w", len(records), err)
		}
		saved := len(bwe.WriteErrors)
		if res != nil {
			saved += int(res.MatchedCount + res.UpsertedCount)
		}
		return saved, nil
	}
	return int(res.MatchedCount + res.UpsertedCount), nil
}

func onlyDuplicateKeys(errs []mongo.BulkWriteError) bool {
	if len(errs) == 0 {
		return false
	}
	for _, we := range errs {
		if !mongo.IsDuplicateKeyError(we.WriteError) {
			return false
		}
	}
	return true
}

// isMissingIndex matches IndexNotFound and NamespaceNotFound.
func isMissingIndex(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 27 || cmdErr.Code == 26
	}
	return false
}

// GetAccountStats aggregates the stored records of account. A missing
// account yields zero counts.
func (a *MessageAdapter) GetAccountStats(ctx context.Context, account string) (*domain.AccountStats, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"account": account}},
		{
			"$group": bson.M{
				"_id":            "$account",
				"message_count":  bson.M{"$sum": 1},
				"attachments":    bson.M{"$sum": "$attachment_count"},
				"oldest_sent_at": bson.M{"$min": "$sent_at"},
				"newest_sent_at": bson.M{"$max": "$sent_at"},
			},
		},
	}

	cursor, err := a.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate account stats: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &domain.AccountStats{Account: account}
	if cursor.Next(ctx) {
		if err := cursor.Decode(stats); err != nil {
			return nil, fmt.Errorf("failed to decode account stats: %w", err)
		}
	}
	return stats, cursor.Err()
}

var (
	_ out.MessageStore = (*MessageAdapter)(nil)
	_ out.MessageStats = (*MessageAdapter)(nil)
)
