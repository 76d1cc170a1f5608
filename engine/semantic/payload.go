package semantic

import (
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/complimo/complimo/engine/domain"
)

// chunkPayload flattens a chunk into a Qdrant payload: text, source path and
// sequence under reserved keys, metadata keys alongside.
func chunkPayload(c domain.Chunk) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		payload[k] = toValue(v)
	}
	payload[payloadText] = toValue(c.Text)
	payload[payloadSourcePath] = toValue(c.SourcePath)
	payload[payloadSeq] = toValue(c.Seq)
	return payload
}

func payloadChunk(p map[string]*pb.Value) domain.Chunk {
	c := domain.Chunk{Metadata: make(map[string]any, len(p))}
	for k, v := range p {
		switch k {
		case payloadText:
			c.Text = v.GetStringValue()
		case payloadSourcePath:
			c.SourcePath = v.GetStringValue()
		case payloadSeq:
			c.Seq = int(v.GetIntegerValue())
		default:
			c.Metadata[k] = fromValue(v)
		}
	}
	return c
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case []any:
		list := &pb.ListValue{Values: make([]*pb.Value, len(tv))}
		for i, e := range tv {
			list.Values[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: list}}
	case []string:
		list := &pb.ListValue{Values: make([]*pb.Value, len(tv))}
		for i, e := range tv {
			list.Values[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: list}}
	case map[string]any:
		st := &pb.Struct{Fields: make(map[string]*pb.Value, len(tv))}
		for k, e := range tv {
			st.Fields[k] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: st}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, e := range k.ListValue.GetValues() {
			out[i] = fromValue(e)
		}
		return out
	case *pb.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for f, e := range k.StructValue.GetFields() {
			out[f] = fromValue(e)
		}
		return out
	default:
		return nil
	}
}
