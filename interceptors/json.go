package interceptors

import (
	"io"

	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
)

// JSONBinding decodes request bodies into operation inputs and encodes
// results with sonic. It also writes and reads JSON fault bodies.
type JSONBinding struct {
	binding
}

func NewJSONBinding() *JSONBinding {
	return &JSONBinding{binding: newBinding(codec{
		name:      "JSON",
		unmarshal: unmarshalJSON,
		marshal:   marshalJSON,
	})}
}

func unmarshalJSON(data []byte, target any) (any, error) {
	if target == nil {
		var v any
		if err := jsoncodec.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	if err := jsoncodec.Unmarshal(data, target); err != nil {
		return nil, err
	}
	return target, nil
}

func marshalJSON(objs []any) ([]byte, error) {
	if len(objs) == 1 {
		return jsoncodec.Marshal(objs[0])
	}
	return jsoncodec.Marshal(objs)
}

func encodeJSON(w io.Writer, v any) error {
	return jsoncodec.Encode(w, v)
}

func decodeJSON(data []byte, v any) error {
	return jsoncodec.Unmarshal(data, v)
}
