package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PalomitasTime/cinema/internal/domain"
)

const (
	playbackCollection  = "playback_history"
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

type playbackEventDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	TorrentID    string             `bson:"torrentId"`
	FilePath     string             `bson:"filePath,omitempty"`
	Outcome      string             `bson:"outcome"`
	Message      string             `bson:"message,omitempty"`
	ConnectionID string             `bson:"connectionId,omitempty"`
	CreatedAt    int64              `bson:"createdAt"`
}

type PlaybackHistoryRepository struct {
	collection *mongo.Collection
}

func NewPlaybackHistoryRepository(client *mongo.Client, dbName string) *PlaybackHistoryRepository {
	return &PlaybackHistoryRepository{collection: client.Database(dbName).Collection(playbackCollection)}
}

func (r *PlaybackHistoryRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "torrentId", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *PlaybackHistoryRepository) Record(ctx context.Context, event domain.PlaybackEvent) error {
	_, err := r.collection.InsertOne(ctx, toPlaybackDoc(event))
	return err
}

func (r *PlaybackHistoryRepository) ListRecent(ctx context.Context, limit int) ([]domain.PlaybackEvent, error) {
	limit = clampHistoryLimit(limit)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []playbackEventDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	events := make([]domain.PlaybackEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, fromPlaybackDoc(doc))
	}
	return events, nil
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func toPlaybackDoc(event domain.PlaybackEvent) playbackEventDoc {
	return playbackEventDoc{
		TorrentID:    string(event.TorrentID),
		FilePath:     event.FilePath,
		Outcome:      string(event.Outcome),
		Message:      event.Message,
		ConnectionID: event.ConnectionID,
		CreatedAt:    event.CreatedAt.UnixMilli(),
	}
}

func fromPlaybackDoc(doc playbackEventDoc) domain.PlaybackEvent {
	return domain.PlaybackEvent{
		TorrentID:    domain.TorrentID(doc.TorrentID),
		FilePath:     doc.FilePath,
		Outcome:      domain.PlaybackOutcome(doc.Outcome),
		Message:      doc.Message,
		ConnectionID: doc.ConnectionID,
		CreatedAt:    timeFromUnixMilli(doc.CreatedAt),
	}
}
