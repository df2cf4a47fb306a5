package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

// payloadPointID keeps the caller's id when it is not a UUID.
const payloadPointID = "_point_id"

// payload fields that get a keyword index on collection creation
var indexedFields = []string{models.PayloadType, models.PayloadTags, models.PayloadSourceID}

// QdrantBackend stores points in Qdrant over gRPC.
type QdrantBackend struct {
	client     *qdrant.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewQdrantBackend connects to Qdrant and checks its health.
func NewQdrantBackend(ctx context.Context, cfg config.QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, models.Configuration("qdrant.connect", fmt.Errorf("failed to create qdrant client: %w", err))
	}

	b := &QdrantBackend{
		client:     client,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
	if b.retryDelay <= 0 {
		b.retryDelay = time.Second
	}

	if err := b.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("qdrant connection established", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return b, nil
}

func (b *QdrantBackend) Name() string { return "qdrant" }

func (b *QdrantBackend) Describe(ctx context.Context, collection string) (*models.CollectionInfo, bool, error) {
	var info *qdrant.CollectionInfo
	err := b.retry(ctx, "describe", func() error {
		exists, err := b.client.CollectionExists(ctx, collection)
		if err != nil || !exists {
			return err
		}
		info, err = b.client.GetCollectionInfo(ctx, collection)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if info == nil {
		return nil, false, nil
	}

	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	return &models.CollectionInfo{
		Name:       collection,
		Dimension:  int(size),
		PointCount: info.GetPointsCount(),
	}, true, nil
}

func (b *QdrantBackend) Create(ctx context.Context, collection string, dimension int) error {
	err := b.retry(ctx, "create_collection", func() error {
		return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return err
	}

	for _, field := range indexedFields {
		_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			b.logger.Warn("failed to create payload index",
				zap.String("collection", collection),
				zap.String("field", field),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (b *QdrantBackend) Upsert(ctx context.Context, collection string, points []models.MemoryPoint) error {
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qp, err := toQdrantPoint(p)
		if err != nil {
			return err
		}
		qpoints[i] = qp
	}

	return b.retry(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qpoints,
		})
		return err
	})
}

func (b *QdrantBackend) Query(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]models.SearchResult, error) {
	filter, err := toQdrantFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	var scored []*qdrant.ScoredPoint
	err = b.retry(ctx, "query", func() error {
		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(opts.Limit)),
			Filter:         filter,
			ScoreThreshold: opts.ScoreThreshold,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		scored = res
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, len(scored))
	for i, sp := range scored {
		results[i] = models.SearchResult{
			Point: fromQdrantPoint(sp.GetId(), sp.GetPayload()),
			Score: sp.GetScore(),
		}
	}
	return results, nil
}

func (b *QdrantBackend) Scroll(ctx context.Context, collection string, f *Filter, limit int) ([]models.MemoryPoint, error) {
	filter, err := toQdrantFilter(f)
	if err != nil {
		return nil, err
	}

	var retrieved []*qdrant.RetrievedPoint
	err = b.retry(ctx, "scroll", func() error {
		res, err := b.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		retrieved = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromRetrieved(retrieved), nil
}

func (b *QdrantBackend) Get(ctx context.Context, collection string, ids []string) ([]models.MemoryPoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var retrieved []*qdrant.RetrievedPoint
	err := b.retry(ctx, "get", func() error {
		res, err := b.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            toQdrantIDs(ids),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		retrieved = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromRetrieved(retrieved), nil
}

func (b *QdrantBackend) Delete(ctx context.Context, collection string, ids []string) error {
	return b.retry(ctx, "delete", func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: toQdrantIDs(ids)},
				},
			},
		})
		return err
	})
}

func (b *QdrantBackend) HealthCheck(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return models.Transient("qdrant.health", fmt.Errorf("health check failed: %w", err))
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// retry runs op with exponential backoff on transient gRPC failures.
func (b *QdrantBackend) retry(ctx context.Context, op string, fn func() error) error {
	delay := b.retryDelay
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				b.logger.Info("qdrant operation recovered after retries",
					zap.String("op", op), zap.Int("attempts", attempt))
			}
			return nil
		}
		lastErr = err

		if !isTransientGRPC(err) {
			return fmt.Errorf("qdrant %s failed: %w", op, err)
		}
		if attempt == b.maxRetries {
			break
		}

		b.logger.Debug("retrying qdrant operation",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return models.Transient("qdrant."+op, ctx.Err())
		case <-time.After(delay):
			delay *= 2
		}
	}

	return models.Transient("qdrant."+op, fmt.Errorf("failed after %d retries: %w", b.maxRetries, lastErr))
}

func isTransientGRPC(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}

// qdrantID maps an arbitrary id to the UUID Qdrant requires. Non-UUID ids
// are hashed into a stable UUIDv5.
func qdrantID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func toQdrantIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDUUID(qdrantID(id))
	}
	return out
}

func toQdrantPoint(p models.MemoryPoint) (*qdrant.PointStruct, error) {
	payload := make(map[string]*qdrant.Value, len(p.Payload)+1)
	for k, v := range p.Payload {
		qv, err := toQdrantValue(v)
		if err != nil {
			return nil, models.Validation("qdrant.upsert", "payload field %s: %v", k, err)
		}
		payload[k] = qv
	}
	if qdrantID(p.ID) != p.ID {
		payload[payloadPointID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.ID}}
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(qdrantID(p.ID)),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}, nil
}

func fromQdrantPoint(id *qdrant.PointId, payload map[string]*qdrant.Value) models.MemoryPoint {
	out := models.Payload{}
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}

	pid := id.GetUuid()
	if pid == "" && id.GetNum() != 0 {
		pid = strconv.FormatUint(id.GetNum(), 10)
	}
	if orig, ok := out[payloadPointID].(string); ok {
		pid = orig
		delete(out, payloadPointID)
	}
	return models.MemoryPoint{ID: pid, Payload: out}
}

func fromRetrieved(points []*qdrant.RetrievedPoint) []models.MemoryPoint {
	out := make([]models.MemoryPoint, len(points))
	for i, p := range points {
		out[i] = fromQdrantPoint(p.GetId(), p.GetPayload())
	}
	return out
}

func toQdrantValue(v any) (*qdrant.Value, error) {
	switch val := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{NullValue: qdrant.NullValue_NULL_VALUE}}, nil
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}, nil
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}, nil
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}, nil
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}, nil
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}, nil
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}, nil
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return toQdrantValue(i)
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return toQdrantValue(f)
	case time.Time:
		return toQdrantValue(val.UTC().Format(time.RFC3339Nano))
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return toQdrantValue(items)
	case []any:
		list := &qdrant.ListValue{Values: make([]*qdrant.Value, len(val))}
		for i, item := range val {
			qv, err := toQdrantValue(item)
			if err != nil {
				return nil, err
			}
			list.Values[i] = qv
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: list}}, nil
	case models.Payload:
		return toQdrantValue(map[string]any(val))
	case map[string]any:
		st := &qdrant.Struct{Fields: make(map[string]*qdrant.Value, len(val))}
		for k, item := range val {
			qv, err := toQdrantValue(item)
			if err != nil {
				return nil, err
			}
			st.Fields[k] = qv
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: st}}, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]any, len(val.ListValue.GetValues()))
		for i, item := range val.ListValue.GetValues() {
			items[i] = fromQdrantValue(item)
		}
		return items
	case *qdrant.Value_StructValue:
		m := make(map[string]any, len(val.StructValue.GetFields()))
		for k, item := range val.StructValue.GetFields() {
			m[k] = fromQdrantValue(item)
		}
		return m
	default:
		return nil
	}
}

func toQdrantFilter(f *Filter) (*qdrant.Filter, error) {
	if f.IsEmpty() {
		return nil, nil
	}
	must, err := toQdrantConditions(f.Must)
	if err != nil {
		return nil, err
	}
	should, err := toQdrantConditions(f.Should)
	if err != nil {
		return nil, err
	}
	mustNot, err := toQdrantConditions(f.MustNot)
	if err != nil {
		return nil, err
	}
	return &qdrant.Filter{Must: must, Should: should, MustNot: mustNot}, nil
}

func toQdrantConditions(conds []Condition) ([]*qdrant.Condition, error) {
	out := make([]*qdrant.Condition, 0, len(conds))
	for _, c := range conds {
		var key string
		var match *qdrant.Match

		switch cond := c.(type) {
		case MatchClause:
			m, err := toQdrantMatch(cond.Value)
			if err != nil {
				return nil, models.Validation("qdrant.filter", "key %s: %v", cond.Key, err)
			}
			key, match = cond.Key, m
		case MatchAnyClause:
			key = cond.Key
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
				Keywords: &qdrant.RepeatedStrings{Strings: cond.Values},
			}}
		default:
			return nil, models.Validation("qdrant.filter", "unsupported condition %T", c)
		}

		out = append(out, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: key, Match: match},
			},
		})
	}
	return out, nil
}

func toQdrantMatch(v any) (*qdrant.Match, error) {
	switch val := v.(type) {
	case string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: val}}, nil
	case bool:
		return &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: val}}, nil
	case int:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(val)}}, nil
	case int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: val}}, nil
	case float64:
		if val == math.Trunc(val) {
			return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(val)}}, nil
		}
		return nil, fmt.Errorf("fractional match value %v is not supported", val)
	default:
		return nil, fmt.Errorf("unsupported match value type %T", v)
	}
}
