package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ajitpratap0/docbreak/internal/models"
)

const (
	qdrantDialTimeout  = 10 * time.Second
	qdrantReadTimeout  = 10 * time.Second
	qdrantWriteTimeout = 30 * time.Second

	// qdrantSimilarLimit caps how many matches a similarity query returns.
	// Dedup only needs to know whether any match exists.
	qdrantSimilarLimit = 10
)

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// EventIndex is a vector index over event embeddings.
type EventIndex interface {
	IndexEvent(ctx context.Context, e models.Event) error
	FindSimilarEvents(ctx context.Context, vector []float32, threshold float64) ([]SimilarEvent, error)
	Close() error
}

// QdrantEventIndex keeps event embeddings in a Qdrant collection so
// similarity lookups do not scan the whole corpus.
type QdrantEventIndex struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection pb.CollectionsClient
	collName   string
	dimension  uint64
	logger     *slog.Logger
}

var _ EventIndex = (*QdrantEventIndex)(nil)

// NewQdrantEventIndex connects to Qdrant and verifies the connection.
func NewQdrantEventIndex(host string, port int, collection string, dimension uint64, useTLS bool, logger *slog.Logger) (*QdrantEventIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	var creds grpc.DialOption
	if useTLS {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(nil))
	} else {
		logger.Warn("qdrant connection using insecure credentials (no TLS)")
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	conn, err := grpc.NewClient(addr, creds)
	if err != nil {
		return nil, fmt.Errorf("connecting to Qdrant at %s: %w", addr, err)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), qdrantDialTimeout)
	defer cancel()
	if _, err := pb.NewCollectionsClient(conn).List(dialCtx, &pb.ListCollectionsRequest{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("verifying Qdrant connection at %s: %w", addr, err)
	}

	logger.Info("connected to Qdrant", "addr", addr, "collection", collection)
	return &QdrantEventIndex{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: pb.NewCollectionsClient(conn),
		collName:   collection,
		dimension:  dimension,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the cosine-distance collection when missing.
func (q *QdrantEventIndex) EnsureCollection(ctx context.Context) error {
	rctx, rcancel := withTimeout(ctx, qdrantReadTimeout)
	defer rcancel()
	resp, err := q.collection.List(rctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == q.collName {
			return nil
		}
	}

	wctx, wcancel := withTimeout(ctx, qdrantWriteTimeout)
	defer wcancel()
	_, err = q.collection.Create(wctx, &pb.CreateCollection{
		CollectionName: q.collName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: q.dimension, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collName, err)
	}

	if _, err := q.points.CreateFieldIndex(wctx, &pb.CreateFieldIndexCollection{
		CollectionName: q.collName,
		FieldName:      "source_id",
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	}); err != nil {
		q.logger.Warn("creating field index", "field", "source_id", "error", err)
	}

	q.logger.Info("created collection", "name", q.collName, "dimension", q.dimension)
	return nil
}

// IndexEvent upserts the event's embedding keyed by event ID.
func (q *QdrantEventIndex) IndexEvent(ctx context.Context, e models.Event) error {
	if len(e.Embedding) == 0 {
		return fmt.Errorf("indexing event %s: no embedding", e.ID)
	}
	ctx, cancel := withTimeout(ctx, qdrantWriteTimeout)
	defer cancel()

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collName,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: e.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Embedding}}},
			Payload: eventToPayload(e),
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting point %s: %w", e.ID, err)
	}
	q.logger.Debug("indexed event", "id", e.ID, "name", e.Name)
	return nil
}

// FindSimilarEvents queries with Qdrant's score threshold. A vector whose
// length differs from the collection's dimension matches nothing.
func (q *QdrantEventIndex) FindSimilarEvents(ctx context.Context, vector []float32, threshold float64) ([]SimilarEvent, error) {
	if uint64(len(vector)) != q.dimension {
		q.logger.Warn("qdrant: query vector dimension mismatch; no matches",
			"collection", q.collName, "want", q.dimension, "got", len(vector))
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx, qdrantReadTimeout)
	defer cancel()

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collName,
		Vector:         vector,
		Limit:          qdrantSimilarLimit,
		ScoreThreshold: float32Ptr(float32(threshold)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("searching similar events: %w", err)
	}

	out := make([]SimilarEvent, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		out = append(out, SimilarEvent{
			Event: payloadToEvent(point.GetId().GetUuid(), point.GetPayload()),
			Score: float64(point.GetScore()),
		})
	}
	return out, nil
}

// Close closes the gRPC connection.
func (q *QdrantEventIndex) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func eventToPayload(e models.Event) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"name":        {Kind: &pb.Value_StringValue{StringValue: e.Name}},
		"description": {Kind: &pb.Value_StringValue{StringValue: e.Description}},
		"source_id":   {Kind: &pb.Value_StringValue{StringValue: e.SourceID}},
	}
	if e.StartDate != nil {
		if raw, err := json.Marshal(e.StartDate); err == nil {
			payload["start_date"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(raw)}}
		}
	}
	return payload
}

func payloadToEvent(id string, payload map[string]*pb.Value) models.Event {
	e := models.Event{
		ID:          id,
		Name:        getStringValue(payload, "name"),
		Description: getStringValue(payload, "description"),
		SourceID:    getStringValue(payload, "source_id"),
	}
	if raw := getStringValue(payload, "start_date"); raw != "" {
		var fd models.FuzzyDate
		if err := json.Unmarshal([]byte(raw), &fd); err == nil {
			e.StartDate = &fd
		}
	}
	return e
}

func getStringValue(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func float32Ptr(v float32) *float32 { return &v }

// IndexedStore routes event similarity through an EventIndex while the
// wrapped Store stays the system of record.
type IndexedStore struct {
	Store
	index EventIndex
}

// WithEventIndex wraps base so events are also written to index and
// similarity queries are answered by index.
func WithEventIndex(base Store, index EventIndex) *IndexedStore {
	return &IndexedStore{Store: base, index: index}
}

// InsertEvent writes the event to the record store, then indexes it.
func (s *IndexedStore) InsertEvent(ctx context.Context, e models.Event) error {
	if err := s.Store.InsertEvent(ctx, e); err != nil {
		return err
	}
	return s.index.IndexEvent(ctx, e)
}

// FindSimilarEvents queries the index.
func (s *IndexedStore) FindSimilarEvents(ctx context.Context, vector []float32, threshold float64) ([]SimilarEvent, error) {
	return s.index.FindSimilarEvents(ctx, vector, threshold)
}

// Close closes the index and the record store.
func (s *IndexedStore) Close() error {
	idxErr := s.index.Close()
	if err := s.Store.Close(); err != nil {
		return err
	}
	return idxErr
}
