// Package mongodb stores topics and data points in MongoDB collections.
package mongodb

import (
	"context"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultDatabase   = "fdbk"
	topicsCollection  = "topics"
	dataCollection    = "data"
	defaultTimeout    = 10 * time.Second
	defaultConnection = "mongodb://localhost:27017"
)

// Options configure the connection.
type Options struct {
	URI      string
	Database string
	// Timeout bounds connecting and creating the indexes.
	Timeout time.Duration
}

// Validate fills in defaults and checks the options.
func (opts *Options) Validate() error {
	if opts.URI == "" {
		opts.URI = defaultConnection
	}
	if opts.Database == "" {
		opts.Database = defaultDatabase
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Timeout < 0 {
		return errors.Wrap(fdbk.ErrValidation, "timeout must not be negative")
	}
	return nil
}

// dataDocument is the stored form of a data point. Timestamps are kept as
// microseconds since the epoch because BSON dates only hold milliseconds.
type dataDocument struct {
	TopicID string                 `bson:"topic_id"`
	Micros  int64                  `bson:"ts"`
	Values  map[string]interface{} `bson:"values"`
}

func newDataDocument(p fdbk.DataPoint) dataDocument {
	return dataDocument{TopicID: p.TopicID, Micros: p.Timestamp.UnixMicro(), Values: p.Values}
}

func (d dataDocument) point() fdbk.DataPoint {
	values := d.Values
	if values == nil {
		values = map[string]interface{}{}
	}
	return fdbk.DataPoint{
		TopicID:   d.TopicID,
		Timestamp: time.UnixMicro(d.Micros).UTC(),
		Values:    values,
	}
}

// Backend implements fdbk.Backend on top of a MongoDB database.
type Backend struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to the server and ensures the unique indexes on topic ids
// and on data point timestamps of a topic.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(opts.Timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true}))
	if err != nil {
		return nil, errors.Wrap(err, "problem connecting to mongodb")
	}

	b := &Backend{client: client, db: client.Database(opts.Database)}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err = b.ensureIndexes(ctx); err != nil {
		grip.Warning(message.WrapError(client.Disconnect(context.Background()), message.Fields{
			"message": "problem disconnecting after failed setup",
		}))
		return nil, errors.WithStack(err)
	}

	grip.Debug(message.Fields{
		"message":  "connected to mongodb",
		"database": opts.Database,
	})

	return b, nil
}

func (b *Backend) topics() *mongo.Collection { return b.db.Collection(topicsCollection) }
func (b *Backend) data() *mongo.Collection   { return b.db.Collection(dataCollection) }

// Database returns the database the backend writes to.
func (b *Backend) Database() *mongo.Database { return b.db }

func (b *Backend) ensureIndexes(ctx context.Context) error {
	_, err := b.topics().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Wrap(err, "problem creating topic index")
	}

	_, err = b.data().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "topic_id", Value: 1}, {Key: "ts", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "problem creating data index")
}

func (b *Backend) topicExists(ctx context.Context, id string) error {
	count, err := b.topics().CountDocuments(ctx, bson.M{"id": id})
	if err != nil {
		return errors.Wrapf(err, "problem finding topic '%s'", id)
	}
	if count == 0 {
		return errors.Wrap(fdbk.ErrNotFound, fdbk.TopicNotFound(id))
	}
	return nil
}

func (b *Backend) InsertTopic(ctx context.Context, t fdbk.Topic, overwrite bool) error {
	if overwrite {
		_, err := b.topics().ReplaceOne(ctx, bson.M{"id": t.ID}, t, options.Replace().SetUpsert(true))
		return errors.Wrapf(err, "problem replacing topic '%s'", t.ID)
	}

	_, err := b.topics().InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(fdbk.ErrDuplicate, "topic '%s' exists", t.ID)
	}
	return errors.Wrapf(err, "problem inserting topic '%s'", t.ID)
}

func (b *Backend) InsertData(ctx context.Context, point fdbk.DataPoint, overwrite bool) error {
	if err := b.topicExists(ctx, point.TopicID); err != nil {
		return errors.WithStack(err)
	}

	doc := newDataDocument(point)
	if overwrite {
		_, err := b.data().ReplaceOne(ctx,
			bson.M{"topic_id": doc.TopicID, "ts": doc.Micros}, doc, options.Replace().SetUpsert(true))
		return errors.Wrapf(err, "problem replacing data of topic '%s'", point.TopicID)
	}

	_, err := b.data().InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(fdbk.ErrDuplicate, "timestamp %s of topic '%s'", fdbk.FormatTimestamp(point.Timestamp), point.TopicID)
	}
	return errors.Wrapf(err, "problem inserting data of topic '%s'", point.TopicID)
}

func (b *Backend) FindTopic(ctx context.Context, id string) (fdbk.Topic, error) {
	t := fdbk.Topic{}
	err := b.topics().FindOne(ctx, bson.M{"id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fdbk.Topic{}, errors.Wrap(fdbk.ErrNotFound, fdbk.TopicNotFound(id))
	}
	if err != nil {
		return fdbk.Topic{}, errors.Wrapf(err, "problem finding topic '%s'", id)
	}
	t.Normalize()
	return t, nil
}

func (b *Backend) FindTopics(ctx context.Context, filter fdbk.TopicFilter) ([]fdbk.Topic, error) {
	query := bson.M{}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.Template != "" {
		query["template"] = filter.Template
	}

	cursor, err := b.topics().Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "problem finding topics")
	}

	topics := []fdbk.Topic{}
	if err = cursor.All(ctx, &topics); err != nil {
		return nil, errors.Wrap(err, "problem reading topics")
	}
	for idx := range topics {
		topics[idx].Normalize()
	}
	return topics, nil
}

func (b *Backend) FindData(ctx context.Context, id string, query fdbk.DataQuery) ([]fdbk.DataPoint, error) {
	if err := b.topicExists(ctx, id); err != nil {
		return nil, errors.WithStack(err)
	}

	filter := bson.M{"topic_id": id}
	bounds := bson.M{}
	if !query.Since.IsZero() {
		bounds["$gte"] = query.Since.UnixMicro()
	}
	if !query.Until.IsZero() {
		bounds["$lte"] = query.Until.UnixMicro()
	}
	if len(bounds) > 0 {
		filter["ts"] = bounds
	}

	// the most recent points are selected in descending order and
	// reversed afterwards
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: -1}})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}

	cursor, err := b.data().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "problem finding data of topic '%s'", id)
	}

	docs := []dataDocument{}
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "problem reading data of topic '%s'", id)
	}

	out := make([]fdbk.DataPoint, len(docs))
	for idx, doc := range docs {
		out[len(docs)-1-idx] = doc.point()
	}
	return out, nil
}

func (b *Backend) Close(ctx context.Context) error {
	return errors.Wrap(b.client.Disconnect(ctx), "problem disconnecting from mongodb")
}
