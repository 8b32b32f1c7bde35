package interceptors

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoBinding is the protobuf counterpart of JSONBinding: bodies are
// protojson documents decoded into the proto.Message an operation's NewInput
// returns. Faults still travel as JSON bodies.
type ProtoBinding struct {
	binding
}

var (
	protoUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}
	protoMarshal   = protojson.MarshalOptions{UseProtoNames: true}
)

func NewProtoBinding() *ProtoBinding {
	return &ProtoBinding{binding: newBinding(codec{
		name:      "Proto",
		unmarshal: unmarshalProto,
		marshal:   marshalProto,
	})}
}

func unmarshalProto(data []byte, target any) (any, error) {
	if target == nil {
		target = &structpb.Struct{}
	}
	pm, ok := target.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("operation input %T is not a proto.Message", target)
	}
	if err := protoUnmarshal.Unmarshal(data, pm); err != nil {
		return nil, err
	}
	return pm, nil
}

func marshalProto(objs []any) ([]byte, error) {
	if len(objs) != 1 {
		return nil, fmt.Errorf("protobuf binding writes exactly one message, got %d", len(objs))
	}
	pm, ok := objs[0].(proto.Message)
	if !ok {
		return nil, fmt.Errorf("result %T is not a proto.Message", objs[0])
	}
	return protoMarshal.Marshal(pm)
}
