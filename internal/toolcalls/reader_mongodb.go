package toolcalls

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBReader implements Reader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB tool-call reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(CollectionName)}, nil
}

func mongoFilter(params QueryParams) bson.D {
	filter := bson.D{}
	if !params.Since.IsZero() {
		filter = append(filter, bson.E{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: params.Since.UTC()}}})
	}
	if params.Tool != "" {
		filter = append(filter, bson.E{Key: "tool", Value: params.Tool})
	}
	return filter
}

func (r *MongoDBReader) Summary(ctx context.Context, params QueryParams) ([]ToolSummary, error) {
	pipeline := bson.A{
		bson.D{{Key: "$match", Value: mongoFilter(params)}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$tool"},
			{Key: "calls", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "errors", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{bson.D{{Key: "$eq", Value: bson.A{"$status", StatusError}}}, 1, 0}},
			}}}},
			{Key: "cache_hits", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{"$cached", 1, 0}},
			}}}},
			{Key: "avg_duration_ms", Value: bson.D{{Key: "$avg", Value: "$duration_ms"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tool call summary: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]ToolSummary, 0)
	for cursor.Next(ctx) {
		var row struct {
			Tool          string  `bson:"_id"`
			Calls         int64   `bson:"calls"`
			Errors        int64   `bson:"errors"`
			CacheHits     int64   `bson:"cache_hits"`
			AvgDurationMS float64 `bson:"avg_duration_ms"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode tool call summary: %w", err)
		}
		result = append(result, ToolSummary(row))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool call summary cursor: %w", err)
	}
	return result, nil
}

func (r *MongoDBReader) Recent(ctx context.Context, params QueryParams) ([]Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(clampLimit(params.Limit)))

	cursor, err := r.collection.Find(ctx, mongoFilter(params), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent tool calls: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]Entry, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool calls: %w", err)
	}
	for i := range result {
		result[i].Timestamp = result[i].Timestamp.UTC()
	}
	return result, nil
}
