package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo is a connection to one MongoDB database.
type Mongo struct {
	client   *mongo.Client
	database string
}

// ConnectMongo connects and pings the primary, failing if either takes longer
// than timeout.
func ConnectMongo(ctx context.Context, uri, database string, timeout time.Duration) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to MongoDB: %w", ErrDocumentStore, err)
	}

	err = client.Ping(ctx, readpref.Primary())
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: pinging MongoDB: %w", ErrDocumentStore, err)
	}

	return &Mongo{client: client, database: database}, nil
}

func (m *Mongo) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	cursor, err := m.client.Database(m.database).Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s.%s: %w", ErrDocumentStore, m.database, collection, err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var docs []Document
	for cursor.Next(ctx) {
		var raw bson.M
		err = cursor.Decode(&raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding document %d: %w", ErrDocumentStore, len(docs), err)
		}
		docs = append(docs, normalizeDocument(raw))
	}
	if err = cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s.%s: %w", ErrDocumentStore, m.database, collection, err)
	}

	return docs, nil
}

func (m *Mongo) InsertAll(ctx context.Context, collection string, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	values := make([]any, len(docs))
	for i, doc := range docs {
		values[i] = doc
	}

	result, err := m.client.Database(m.database).Collection(collection).InsertMany(ctx, values)
	if err != nil {
		return 0, fmt.Errorf("%w: inserting into %s.%s: %w", ErrDocumentStore, m.database, collection, err)
	}
	return len(result.InsertedIDs), nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func normalizeDocument(raw bson.M) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		doc[k] = normalizeValue(v)
	}
	return doc
}

// normalizeValue converts BSON values to the JSON-like values of Document.
func normalizeValue(v any) any {
	switch o := v.(type) {
	case nil, bool, float64, string:
		return o
	case int32:
		return float64(o)
	case int64:
		return float64(o)
	case primitive.ObjectID:
		return o.Hex()
	case primitive.DateTime:
		return o.Time().UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return o.String()
	case primitive.Null, primitive.Undefined:
		return nil
	case bson.M:
		return normalizeDocument(o)
	case bson.D:
		return normalizeDocument(o.Map())
	case bson.A:
		values := make([]any, len(o))
		for i, e := range o {
			values[i] = normalizeValue(e)
		}
		return values
	default:
		return fmt.Sprint(o)
	}
}
