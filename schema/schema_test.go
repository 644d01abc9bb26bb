package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestAttributeWireLayout(t *testing.T) {
	got, err := (&Attribute{Key: "from", Value: "0xaa"}).Marshal()
	require.NoError(t, err)

	want := []byte{0x0a, 0x04, 'f', 'r', 'o', 'm', 0x12, 0x04, '0', 'x', 'a', 'a'}
	assert.Equal(t, want, got)
}

func TestWireMatchesProtobufRuntime(t *testing.T) {
	deterministic := proto.MarshalOptions{Deterministic: true}

	t.Run("string field 1", func(t *testing.T) {
		got, err := (&Attribute{Key: "topic"}).Marshal()
		require.NoError(t, err)
		want, err := deterministic.Marshal(wrapperspb.String("topic"))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("negative int64 field 1", func(t *testing.T) {
		got, err := (&Config{StartBlock: -1}).Marshal()
		require.NoError(t, err)
		want, err := deterministic.Marshal(wrapperspb.Int64(-1))
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Len(t, got, 11)
	})

	t.Run("any envelope", func(t *testing.T) {
		env := &anypb.Any{TypeUrl: "type.googleapis.com/sf.substreams.v1.Clock", Value: []byte{0x10, 0x2a}}
		got, err := marshalAny(env)
		require.NoError(t, err)
		want, err := deterministic.Marshal(env)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestPublishOperationsRoundTrip(t *testing.T) {
	in := &PublishOperations{
		PublishOperations: []*PublishOperation{
			{
				TopicID:     "transfers",
				OrderingKey: "42",
				Message: &Message{
					Data: []byte(`{"from":"aa"}`),
					Attributes: []*Attribute{
						{Key: "from", Value: "0xaa"},
						{Key: "to", Value: "0xbb"},
					},
					OrderingKey: "42",
				},
			},
			{
				TopicID: "clocks",
				Message: &Message{
					DataAny: &anypb.Any{TypeUrl: "type.googleapis.com/sf.substreams.v1.Clock", Value: []byte{0x10, 0x2a}},
				},
			},
		},
	}

	raw, err := in.Marshal()
	require.NoError(t, err)

	out := &PublishOperations{}
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, 2, out.Len())

	first := out.PublishOperations[0]
	assert.Equal(t, "transfers", first.TopicID)
	assert.Equal(t, "42", first.OrderingKey)
	assert.Equal(t, []byte(`{"from":"aa"}`), first.Message.Data)
	assert.Equal(t, []*Attribute{{Key: "from", Value: "0xaa"}, {Key: "to", Value: "0xbb"}}, first.Message.Attributes)
	assert.False(t, first.Message.HasEnvelope())

	second := out.PublishOperations[1]
	require.True(t, second.Message.HasEnvelope())
	assert.Equal(t, "type.googleapis.com/sf.substreams.v1.Clock", second.Message.DataAny.GetTypeUrl())
	assert.Equal(t, []byte{0x10, 0x2a}, second.Message.DataAny.GetValue())
	assert.Empty(t, second.Message.Data)

	again, err := out.Marshal()
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestLegacyMessageDecodesIntoCurrentSchema(t *testing.T) {
	// Publish{messages} written by producers that predate ordering_key and data_any.
	legacy := []byte{
		0x0a, 0x0a, // messages, len 10
		0x0a, 0x02, 'h', 'i', // data
		0x12, 0x04, 0x0a, 0x02, 'k', '1', // attributes{key:"k1"}
	}

	out := &Publish{}
	require.NoError(t, out.Unmarshal(legacy))
	require.Len(t, out.Messages, 1)
	assert.Equal(t, []byte("hi"), out.Messages[0].Data)
	assert.Equal(t, "k1", out.Messages[0].Attributes[0].Key)
	assert.Empty(t, out.Messages[0].OrderingKey)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	raw := []byte{
		0x0a, 0x01, 't', // topic_id
		0x28, 0x07, // field 5 varint, unknown
		0x35, 0x01, 0x02, 0x03, 0x04, // field 6 fixed32, unknown
	}
	op := &PublishOperation{}
	require.NoError(t, op.Unmarshal(raw))
	assert.Equal(t, "t", op.TopicID)
	assert.Nil(t, op.Message)
}

func TestServiceSinkConfigPresence(t *testing.T) {
	empty, err := (&Service{}).Marshal()
	require.NoError(t, err)
	assert.Empty(t, empty)

	present, err := (&Service{SinkConfig: &Config{}}).Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x00}, present)

	decoded := &Service{}
	require.NoError(t, decoded.Unmarshal(present))
	assert.True(t, decoded.HasSinkConfig())

	full := &Service{SinkConfig: &Config{StartBlock: 12_000_000, InputModule: "map_transfers"}}
	raw, err := full.Marshal()
	require.NoError(t, err)
	require.NoError(t, decoded.Unmarshal(raw))
	assert.Equal(t, full, decoded)
}

func TestMarshalRejectsInvalidUTF8(t *testing.T) {
	_, err := (&Attribute{Key: "from", Value: string([]byte{0xff, 0xfe})}).Marshal()
	assert.Error(t, err)

	_, err = (&PublishOperations{PublishOperations: []*PublishOperation{nil}}).Marshal()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *PublishOperation {
		return &PublishOperation{TopicID: "t", Message: &Message{Data: []byte("x")}}
	}

	tests := []struct {
		name   string
		mutate func(op *PublishOperation)
		want   error
	}{
		{name: "valid", mutate: func(*PublishOperation) {}},
		{name: "empty topic", mutate: func(op *PublishOperation) { op.TopicID = "" }, want: ErrEmptyTopic},
		{name: "nil message", mutate: func(op *PublishOperation) { op.Message = nil }, want: ErrNilMessage},
		{name: "empty payload", mutate: func(op *PublishOperation) { op.Message.Data = nil }, want: ErrEmptyPayload},
		{
			name: "envelope without value",
			mutate: func(op *PublishOperation) {
				op.Message.DataAny = &anypb.Any{TypeUrl: "type.googleapis.com/x.v1.Y"}
			},
			want: ErrPartialEnvelope,
		},
		{
			name: "envelope alone is enough",
			mutate: func(op *PublishOperation) {
				op.Message.Data = nil
				op.Message.DataAny = &anypb.Any{TypeUrl: "type.googleapis.com/x.v1.Y", Value: []byte{1}}
			},
		},
		{
			name:   "empty attribute key",
			mutate: func(op *PublishOperation) { op.Message.Attributes = []*Attribute{{Value: "v"}} },
			want:   ErrEmptyAttributeKey,
		},
		{
			name: "ordering key mismatch",
			mutate: func(op *PublishOperation) {
				op.OrderingKey = "1"
				op.Message.OrderingKey = "2"
			},
			want: ErrOrderingKeyMismatch,
		},
		{
			name:   "ordering key on message only",
			mutate: func(op *PublishOperation) { op.Message.OrderingKey = "2" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := valid()
			tt.mutate(op)
			err := op.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestToPublishCarriesOrderingKey(t *testing.T) {
	ops := &PublishOperations{PublishOperations: []*PublishOperation{
		{TopicID: "a", OrderingKey: "7", Message: &Message{Data: []byte("1")}},
		{TopicID: "b", Message: &Message{Data: []byte("2"), OrderingKey: "own"}},
	}}

	legacy := ops.ToPublish()
	require.Len(t, legacy.Messages, 2)
	assert.Equal(t, "7", legacy.Messages[0].OrderingKey)
	assert.Equal(t, "own", legacy.Messages[1].OrderingKey)
	assert.Empty(t, ops.PublishOperations[0].Message.OrderingKey, "source batch must not be mutated")
}
