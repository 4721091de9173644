package replaystore

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/session-replay/internal/replay"
)

// MongoStoreConfig contains connection settings for the MongoDB backend.
type MongoStoreConfig struct {
	URI      string // e.g. mongodb://localhost:27017
	Database string // e.g. session_replay
	Sessions string // e.g. sessions
	Events   string // e.g. replay_events
}

// MongoStore implements ReplayStore on MongoDB backend.
type MongoStore struct {
	client     *mongo.Client
	sessions   *mongo.Collection
	events     *mongo.Collection
	ctxTimeout time.Duration
}

type sessionDoc struct {
	SessionID string            `bson:"session_id"`
	UserID    string            `bson:"user_id"`
	EntryURL  string            `bson:"entry_url"`
	Referrer  string            `bson:"referrer,omitempty"`
	UserAgent string            `bson:"user_agent,omitempty"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	StartedAt time.Time         `bson:"started_at"`
	EndedAt   *time.Time        `bson:"ended_at,omitempty"`
}

type eventDoc struct {
	SessionID string `bson:"session_id"`
	Sequence  int64  `bson:"sequence"`
	Event     []byte `bson:"event"`
	Timestamp int64  `bson:"timestamp"`
}

// NewMongoStore establishes connection and returns the store.
func NewMongoStore(cfg MongoStoreConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "session_replay"
	}
	if cfg.Sessions == "" {
		cfg.Sessions = "sessions"
	}
	if cfg.Events == "" {
		cfg.Events = "replay_events"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	db := client.Database(cfg.Database)
	store := &MongoStore{
		client:     client,
		sessions:   db.Collection(cfg.Sessions),
		events:     db.Collection(cfg.Events),
		ctxTimeout: 5 * time.Second,
	}

	// Ensure indexes
	if err := store.ensureIndexes(); err != nil {
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	sessionIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("session_unique"),
	}
	if _, err := m.sessions.Indexes().CreateOne(ctx, sessionIdx); err != nil {
		return err
	}
	seqIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("session_sequence_unique"),
	}
	_, err := m.events.Indexes().CreateOne(ctx, seqIdx)
	return err
}

// StartSession implements ReplayStore.
func (m *MongoStore) StartSession(ctx context.Context, rec SessionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	doc := sessionDoc{
		SessionID: rec.SessionID,
		UserID:    rec.UserID,
		EntryURL:  rec.EntryURL,
		Referrer:  rec.Referrer,
		UserAgent: rec.UserAgent,
		Metadata:  rec.Metadata,
		StartedAt: rec.StartedAt,
	}
	_, err := m.sessions.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrSessionExists
	}
	return err
}

// EndSession implements ReplayStore.
func (m *MongoStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	res, err := m.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"ended_at": endedAt}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession implements ReplayStore.
func (m *MongoStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc sessionDoc
	err := m.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	count, err := m.events.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	rec := docToRecord(doc)
	rec.ReplayEventsCount = count
	return &rec, nil
}

// ListSessions implements ReplayStore. Newest sessions first.
func (m *MongoStore) ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	total, err := m.sessions.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := m.sessions.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	records := make([]SessionRecord, 0, limit)
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		rec := docToRecord(doc)
		rec.ReplayEventsCount, err = m.events.CountDocuments(ctx, bson.M{"session_id": doc.SessionID})
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, cursor.Err()
}

// AppendEvents implements ReplayStore.
func (m *MongoStore) AppendEvents(ctx context.Context, sessionID string, events []replay.ReplayEvent) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	n, err := m.sessions.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrSessionNotFound
	}

	start, err := m.events.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, err
	}

	docs := make([]interface{}, 0, len(events))
	for i, ev := range events {
		payload := []byte(ev.Payload)
		if len(payload) == 0 {
			payload, err = json.Marshal(ev)
			if err != nil {
				return 0, err
			}
		}
		docs = append(docs, eventDoc{
			SessionID: sessionID,
			Sequence:  start + int64(i),
			Event:     payload,
			Timestamp: ev.Timestamp,
		})
	}
	if len(docs) > 0 {
		if _, err := m.events.InsertMany(ctx, docs); err != nil {
			return 0, err
		}
	}
	return start, nil
}

// GetEvents implements ReplayStore. Events come back ordered by sequence.
func (m *MongoStore) GetEvents(ctx context.Context, sessionID string, limit, offset int) ([]replay.ReplayEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	n, err := m.sessions.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrSessionNotFound
	}

	if limit <= 0 {
		limit = 1200
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "sequence", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := m.events.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	raw := make([]json.RawMessage, 0, limit)
	for cursor.Next(ctx) {
		var doc eventDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		raw = append(raw, json.RawMessage(doc.Event))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return replay.DecodeEvents(raw)
}

// CountEvents implements ReplayStore.
func (m *MongoStore) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	n, err := m.sessions.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrSessionNotFound
	}
	return m.events.CountDocuments(ctx, bson.M{"session_id": sessionID})
}

// Close disconnects the underlying client.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func docToRecord(doc sessionDoc) SessionRecord {
	return SessionRecord{
		SessionID: doc.SessionID,
		UserID:    doc.UserID,
		EntryURL:  doc.EntryURL,
		Referrer:  doc.Referrer,
		UserAgent: doc.UserAgent,
		Metadata:  doc.Metadata,
		StartedAt: doc.StartedAt,
		EndedAt:   doc.EndedAt,
	}
}
