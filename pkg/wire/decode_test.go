package wire

import (
	"testing"

	"github.com/latchvc/latchvc/pkg/digest"
)

func TestDecodeFrameDispatchesByKind(t *testing.T) {
	_, priv := mustKeypair(t)
	d := digest.Sum([]byte("payload"))

	cases := []struct {
		name  string
		frame *Frame
		check func(t *testing.T, body interface{})
	}{
		{"GetChunk", NewGetChunkFrame("latch:key:a", 1, d), func(t *testing.T, body interface{}) {
			if _, ok := body.(*GetChunkReq); !ok {
				t.Fatalf("got %T, want *GetChunkReq", body)
			}
		}},
		{"ChunkResp", NewChunkRespFrame("latch:key:a", 1, []byte("data"), true), func(t *testing.T, body interface{}) {
			resp, ok := body.(*ChunkResp)
			if !ok {
				t.Fatalf("got %T, want *ChunkResp", body)
			}
			if !resp.Found || string(resp.Data) != "data" {
				t.Fatalf("unexpected ChunkResp: %+v", resp)
			}
		}},
		{"GetManifest", NewGetManifestFrame("latch:key:a", 1, d), func(t *testing.T, body interface{}) {
			if _, ok := body.(*GetManifestReq); !ok {
				t.Fatalf("got %T, want *GetManifestReq", body)
			}
		}},
		{"ManifestResp", NewManifestRespFrame("latch:key:a", 1, nil, false), func(t *testing.T, body interface{}) {
			if _, ok := body.(*ManifestResp); !ok {
				t.Fatalf("got %T, want *ManifestResp", body)
			}
		}},
		{"ListCommits", NewListCommitsFrame("latch:key:a", 1), func(t *testing.T, body interface{}) {
			if _, ok := body.(*ListCommitsReq); !ok {
				t.Fatalf("got %T, want *ListCommitsReq", body)
			}
		}},
		{"CommitListResp", NewCommitListRespFrame("latch:key:a", 1, []CommitSummary{{Digest: d}}), func(t *testing.T, body interface{}) {
			resp, ok := body.(*CommitListResp)
			if !ok {
				t.Fatalf("got %T, want *CommitListResp", body)
			}
			if len(resp.Commits) != 1 {
				t.Fatalf("expected 1 commit, got %d", len(resp.Commits))
			}
		}},
		{"GetCommit", NewGetCommitFrame("latch:key:a", 1, d), func(t *testing.T, body interface{}) {
			if _, ok := body.(*GetCommitReq); !ok {
				t.Fatalf("got %T, want *GetCommitReq", body)
			}
		}},
		{"CommitResp", NewCommitRespFrame("latch:key:a", 1, CommitResp{Found: true, Message: "m"}), func(t *testing.T, body interface{}) {
			resp, ok := body.(*CommitResp)
			if !ok {
				t.Fatalf("got %T, want *CommitResp", body)
			}
			if resp.Message != "m" {
				t.Fatalf("unexpected CommitResp: %+v", resp)
			}
		}},
		{"PutHead", NewPutHeadFrame("latch:key:a", 1, "main", d, true), func(t *testing.T, body interface{}) {
			req, ok := body.(*PutHeadNotify)
			if !ok {
				t.Fatalf("got %T, want *PutHeadNotify", body)
			}
			if req.Branch != "main" {
				t.Fatalf("unexpected PutHeadNotify: %+v", req)
			}
		}},
		{"Ack", NewAckFrame("latch:key:a", 1), func(t *testing.T, body interface{}) {
			if _, ok := body.(*Ack); !ok {
				t.Fatalf("got %T, want *Ack", body)
			}
		}},
		{"ErrorResp", ErrorFrame("latch:key:a", 1, NewError(ErrorNotFound, "nope")), func(t *testing.T, body interface{}) {
			errBody, ok := body.(*Error)
			if !ok {
				t.Fatalf("got %T, want *Error", body)
			}
			if errBody.Reason != "nope" {
				t.Fatalf("unexpected Error: %+v", errBody)
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.frame.Sign(priv); err != nil {
				t.Fatalf("Sign: %v", err)
			}
			data, err := tc.frame.Marshal()
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := DecodeFrame(data)
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if got.Kind != tc.frame.Kind {
				t.Fatalf("Kind = %d, want %d", got.Kind, tc.frame.Kind)
			}
			tc.check(t, got.Body)
		})
	}
}

func TestDecodeFrameRejectsUnknownKind(t *testing.T) {
	_, priv := mustKeypair(t)
	f := NewListCommitsFrame("latch:key:a", 1)
	f.Kind = 250
	f.Sign(priv)
	data, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := DecodeFrame(data); err == nil {
		t.Fatal("expected error for unknown frame kind")
	}
}
