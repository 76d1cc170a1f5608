package semantic

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/complimo/complimo/engine/domain"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore is the Qdrant-backed Index.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI

	mu    sync.Mutex
	known map[string]bool // collections confirmed to exist
}

var _ Index = (*QdrantStore)(nil)

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	s := newQdrant(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn))
	s.conn = conn
	return s, nil
}

func newQdrant(points pointsAPI, collections collectionsAPI) *QdrantStore {
	return &QdrantStore{points: points, collections: collections, known: map[string]bool{}}
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *QdrantStore) exists(ctx context.Context, collection string) (bool, error) {
	q.mu.Lock()
	ok := q.known[collection]
	q.mu.Unlock()
	if ok {
		return true, nil
	}
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, domain.Upstream("semantic: list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == collection {
			q.mu.Lock()
			q.known[collection] = true
			q.mu.Unlock()
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection creates the collection with cosine distance if missing.
func (q *QdrantStore) ensureCollection(ctx context.Context, collection string, dims int) error {
	ok, err := q.exists(ctx, collection)
	if err != nil || ok {
		return err
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return domain.Upstream("semantic: create collection "+collection, err)
	}
	q.mu.Lock()
	q.known[collection] = true
	q.mu.Unlock()
	return nil
}

// DeleteCollection deletes the collection. A missing collection is not an error.
func (q *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	q.mu.Lock()
	delete(q.known, collection)
	q.mu.Unlock()
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil && status.Code(err) != codes.NotFound {
		return domain.Upstream("semantic: delete collection "+collection, err)
	}
	return nil
}

// Upsert stores records, creating the collection sized to the first vector.
func (q *QdrantStore) Upsert(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, collection, len(records[0].Embedding)); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: chunkPayload(r.Chunk),
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return domain.Upstream(fmt.Sprintf("semantic: upsert %d points", len(records)), err)
	}
	return nil
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func notFound(collection string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("semantic: collection %q: %w", collection, domain.ErrIndexUnavailable)
	}
	return nil
}

// Search performs k-NN similarity search.
func (q *QdrantStore) Search(ctx context.Context, collection string, embedding []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    withPayload(),
	})
	if err != nil {
		if nf := notFound(collection, err); nf != nil {
			return nil, nf
		}
		return nil, domain.Upstream("semantic: search", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = SearchResult{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
			Chunk: payloadChunk(r.GetPayload()),
		}
	}
	return results, nil
}

// List scrolls through the collection. limit <= 0 means all points.
func (q *QdrantStore) List(ctx context.Context, collection string, limit int) ([]domain.Chunk, error) {
	const page = 256
	var (
		out    []domain.Chunk
		offset *pb.PointId
	)
	for {
		n := uint32(page)
		if limit > 0 && limit-len(out) < page {
			n = uint32(limit - len(out))
		}
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Limit:          &n,
			Offset:         offset,
			WithPayload:    withPayload(),
		})
		if err != nil {
			if nf := notFound(collection, err); nf != nil {
				return nil, nf
			}
			return nil, domain.Upstream("semantic: scroll", err)
		}
		for _, p := range resp.GetResult() {
			out = append(out, payloadChunk(p.GetPayload()))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}
