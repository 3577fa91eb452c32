package link

import (
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope field names shared with the vehicle side of the link.
const (
	fieldID      = "id"
	fieldCommand = "command"
	fieldParams  = "params"
	fieldOK      = "ok"
	fieldError   = "error"
	fieldValues  = "values"

	fieldUpload = "upload"
	fieldSeq    = "seq"
	fieldOffset = "offset"
	fieldTotal  = "total"
	fieldData   = "data"
)

// commandUploadCommit asks a component to assemble the chunks of an upload.
const commandUploadCommit = "upload_commit"

var errMalformed = errors.New("malformed envelope")

// request is a decoded command envelope.
type request struct {
	ID      string
	Command string
	Params  map[string]any
}

// reply is a decoded answer envelope.
type reply struct {
	ID     string
	OK     bool
	Error  string
	Values map[string]any
}

// chunk is one slice of an upload.
type chunk struct {
	Upload string
	Seq    int
	Offset int64
	Total  int64
	Data   []byte
}

func marshal(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return protojson.Marshal(s)
}

func unmarshal(payload []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return s.AsMap(), nil
}

func encodeRequest(r request) ([]byte, error) {
	fields := map[string]any{fieldID: r.ID, fieldCommand: r.Command}
	if len(r.Params) > 0 {
		fields[fieldParams] = r.Params
	}
	return marshal(fields)
}

func decodeReply(payload []byte) (reply, error) {
	m, err := unmarshal(payload)
	if err != nil {
		return reply{}, err
	}
	r := reply{}
	r.ID, _ = m[fieldID].(string)
	r.OK, _ = m[fieldOK].(bool)
	r.Error, _ = m[fieldError].(string)
	r.Values, _ = m[fieldValues].(map[string]any)
	if r.ID == "" {
		return reply{}, fmt.Errorf("%w: missing id", errMalformed)
	}
	return r, nil
}

// encodeChunk stores Data as base64 text, which is how structpb carries bytes.
func encodeChunk(c chunk) ([]byte, error) {
	return marshal(map[string]any{
		fieldUpload: c.Upload,
		fieldSeq:    c.Seq,
		fieldOffset: c.Offset,
		fieldTotal:  c.Total,
		fieldData:   c.Data,
	})
}

func decodeRequest(payload []byte) (request, error) {
	m, err := unmarshal(payload)
	if err != nil {
		return request{}, err
	}
	r := request{}
	r.ID, _ = m[fieldID].(string)
	r.Command, _ = m[fieldCommand].(string)
	r.Params, _ = m[fieldParams].(map[string]any)
	if r.ID == "" || r.Command == "" {
		return request{}, fmt.Errorf("%w: missing id or command", errMalformed)
	}
	return r, nil
}

func encodeReply(r reply) ([]byte, error) {
	fields := map[string]any{fieldID: r.ID, fieldOK: r.OK}
	if r.Error != "" {
		fields[fieldError] = r.Error
	}
	if len(r.Values) > 0 {
		fields[fieldValues] = r.Values
	}
	return marshal(fields)
}

// decodeChunk reverses encodeChunk. Numbers come back as float64.
func decodeChunk(payload []byte) (chunk, error) {
	m, err := unmarshal(payload)
	if err != nil {
		return chunk{}, err
	}
	c := chunk{}
	c.Upload, _ = m[fieldUpload].(string)
	seq, _ := m[fieldSeq].(float64)
	offset, _ := m[fieldOffset].(float64)
	total, _ := m[fieldTotal].(float64)
	c.Seq, c.Offset, c.Total = int(seq), int64(offset), int64(total)
	data, _ := m[fieldData].(string)
	c.Data, err = base64.StdEncoding.DecodeString(data)
	return c, err
}
