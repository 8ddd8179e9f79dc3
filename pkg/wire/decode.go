package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/latchvc/latchvc/pkg/constants"
)

// rawFrame mirrors Frame but leaves Body undecoded, so its concrete type can
// be chosen from Kind before decoding it.
type rawFrame struct {
	V     uint16          `cbor:"v"`
	Kind  uint16          `cbor:"kind"`
	From  string          `cbor:"from"`
	ReqID uint64          `cbor:"req_id"`
	TS    uint64          `cbor:"ts"`
	Body  cbor.RawMessage `cbor:"body"`
	Sig   []byte          `cbor:"sig"`
}

// DecodeFrame decodes data into a Frame whose Body is the concrete request
// or response type matching its Kind. Transport readers should use this
// instead of Frame.Unmarshal, which leaves Body as a generic map.
func DecodeFrame(data []byte) (*Frame, error) {
	var rf rawFrame
	if err := cbor.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("wire: decode frame envelope: %w", err)
	}

	f := &Frame{V: rf.V, Kind: rf.Kind, From: rf.From, ReqID: rf.ReqID, TS: rf.TS, Sig: rf.Sig}

	body, err := decodeBody(rf.Kind, rf.Body)
	if err != nil {
		return nil, err
	}
	f.Body = body
	return f, nil
}

func decodeBody(kind uint16, raw cbor.RawMessage) (interface{}, error) {
	var body interface{}
	switch kind {
	case constants.KindGetChunk:
		body = &GetChunkReq{}
	case constants.KindChunkResp:
		body = &ChunkResp{}
	case constants.KindGetManifest:
		body = &GetManifestReq{}
	case constants.KindManifestResp:
		body = &ManifestResp{}
	case constants.KindListCommits:
		body = &ListCommitsReq{}
	case constants.KindCommitListResp:
		body = &CommitListResp{}
	case constants.KindGetCommit:
		body = &GetCommitReq{}
	case constants.KindCommitResp:
		body = &CommitResp{}
	case constants.KindPutHead:
		body = &PutHeadNotify{}
	case constants.KindAck:
		body = &Ack{}
	case constants.KindErrorResp:
		body = &Error{}
	default:
		return nil, fmt.Errorf("wire: unknown frame kind %d", kind)
	}
	if err := cbor.Unmarshal(raw, body); err != nil {
		return nil, fmt.Errorf("wire: decode body for kind %d: %w", kind, err)
	}
	return body, nil
}
