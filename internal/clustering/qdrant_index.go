package clustering

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// QdrantConfig configures a Qdrant-backed index.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	VectorSize int

	// Recreate drops an existing collection so the index starts empty.
	// Leave it unset when the collection is restored with a snapshot.
	Recreate bool

	// MaxMessageSize bounds gRPC messages in bytes. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "inquire_questions"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantIndex is an Index stored in a Qdrant collection, for sharing a
// clustering across processes. Point ids are sequential integers.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	next       atomic.Uint64
}

// NewQdrantIndex connects to Qdrant and creates the collection with cosine
// distance if it does not exist, or if Recreate dropped it.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("checking collection %s: %w", cfg.Collection, err)
	}
	if exists && cfg.Recreate {
		if err := client.DeleteCollection(ctx, cfg.Collection); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("dropping collection %s: %w", cfg.Collection, err)
		}
		exists = false
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(cfg.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("creating collection %s: %w", cfg.Collection, err)
		}
	}

	count, err := client.Count(ctx, &qdrant.CountPoints{
		CollectionName: cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("counting points in %s: %w", cfg.Collection, err)
	}

	idx := &QdrantIndex{client: client, collection: cfg.Collection}
	idx.next.Store(count)
	return idx, nil
}

// Close releases the gRPC connection.
func (i *QdrantIndex) Close() error {
	return i.client.Close()
}

// Len implements Index.
func (i *QdrantIndex) Len(context.Context) (int, error) {
	return int(i.next.Load()), nil
}

// Add implements Index.
func (i *QdrantIndex) Add(ctx context.Context, vec []float32, label string) (string, error) {
	num := i.next.Load()
	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(num),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{"question": label}),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("upserting point %d: %w", num, err)
	}
	i.next.Add(1)
	return strconv.FormatUint(num, 10), nil
}

// Nearest implements Index. Qdrant reports cosine similarity directly as the score.
func (i *QdrantIndex) Nearest(ctx context.Context, vec []float32) (string, float64, bool, error) {
	if i.next.Load() == 0 {
		return "", 0, false, nil
	}
	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(1)),
	})
	if err != nil {
		return "", 0, false, fmt.Errorf("querying %s: %w", i.collection, err)
	}
	if len(points) == 0 {
		return "", 0, false, nil
	}
	id := strconv.FormatUint(points[0].GetId().GetNum(), 10)
	return id, float64(points[0].GetScore()), true, nil
}
