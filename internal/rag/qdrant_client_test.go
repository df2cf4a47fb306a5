package rag

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"Orion-Core/server/internal/models"
)

func TestQdrantID(t *testing.T) {
	u := uuid.NewString()
	assert.Equal(t, u, qdrantID(u))

	mapped := qdrantID("j1")
	_, err := uuid.Parse(mapped)
	require.NoError(t, err)
	assert.Equal(t, mapped, qdrantID("j1"))
	assert.NotEqual(t, mapped, qdrantID("j2"))
}

func TestQdrantPointRoundTrip(t *testing.T) {
	in := models.MemoryPoint{
		ID:     "j1",
		Vector: []float32{0.1, 0.2},
		Payload: models.Payload{
			"text":   "Feeling anxious about the interview",
			"tags":   []string{"interview"},
			"rating": 4,
			"score":  0.5,
			"flag":   true,
			"nested": map[string]any{"k": "v"},
			"none":   nil,
		},
	}

	qp, err := toQdrantPoint(in)
	require.NoError(t, err)
	assert.Equal(t, qdrantID("j1"), qp.GetId().GetUuid())
	assert.Equal(t, "j1", qp.GetPayload()[payloadPointID].GetStringValue())

	out := fromQdrantPoint(qp.GetId(), qp.GetPayload())
	assert.Equal(t, "j1", out.ID)
	assert.NotContains(t, out.Payload, payloadPointID)
	assert.Equal(t, in.Payload["text"], out.Payload.Text())
	assert.Equal(t, []string{"interview"}, out.Payload.Tags())
	assert.Equal(t, int64(4), out.Payload["rating"])
	assert.Equal(t, 0.5, out.Payload["score"])
	assert.Equal(t, true, out.Payload["flag"])
	assert.Equal(t, map[string]any{"k": "v"}, out.Payload["nested"])
	assert.Nil(t, out.Payload["none"])
}

func TestQdrantPoint_UUIDKeepsID(t *testing.T) {
	id := uuid.NewString()
	qp, err := toQdrantPoint(models.MemoryPoint{ID: id, Vector: []float32{1}, Payload: models.Payload{}})
	require.NoError(t, err)
	assert.NotContains(t, qp.GetPayload(), payloadPointID)
	assert.Equal(t, id, fromQdrantPoint(qp.GetId(), qp.GetPayload()).ID)
}

func TestToQdrantValue_Unsupported(t *testing.T) {
	_, err := toQdrantPoint(models.MemoryPoint{ID: "x", Payload: models.Payload{"ch": make(chan int)}})
	assert.True(t, models.IsValidation(err))
}

func TestToQdrantFilter(t *testing.T) {
	f, err := toQdrantFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = toQdrantFilter(&Filter{
		Must:    []Condition{MatchClause{Key: "type", Value: "journal"}, MatchClause{Key: "n", Value: float64(2)}},
		Should:  []Condition{MatchAnyClause{Key: "tags", Values: []string{"a", "b"}}},
		MustNot: []Condition{MatchClause{Key: "archived", Value: true}},
	})
	require.NoError(t, err)

	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, "type", f.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "journal", f.GetMust()[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, int64(2), f.GetMust()[1].GetField().GetMatch().GetInteger())
	assert.Equal(t, []string{"a", "b"}, f.GetShould()[0].GetField().GetMatch().GetKeywords().GetStrings())
	assert.True(t, f.GetMustNot()[0].GetField().GetMatch().GetBoolean())

	_, err = toQdrantFilter(Match("score", 0.5))
	assert.True(t, models.IsValidation(err))
}

func TestIsTransientGRPC(t *testing.T) {
	assert.True(t, isTransientGRPC(status.Error(codes.Unavailable, "down")))
	assert.True(t, isTransientGRPC(status.Error(codes.ResourceExhausted, "slow down")))
	assert.False(t, isTransientGRPC(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, isTransientGRPC(errors.New("plain")))
}

func TestFromRetrieved_NumericID(t *testing.T) {
	points := fromRetrieved([]*qdrant.RetrievedPoint{{Id: qdrant.NewIDNum(42)}})
	require.Len(t, points, 1)
	assert.Equal(t, "42", points[0].ID)
}
