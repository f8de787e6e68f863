package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeHandler func(params []json.RawMessage) (any, *RPCError)

// newFakeNode serves JSON-RPC over WebSocket with the given method table.
func newFakeNode(t *testing.T, methods map[string]fakeHandler) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			h, ok := methods[req.Method]
			if !ok {
				resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
			} else if res, rerr := h(req.Params); rerr != nil {
				resp["error"] = rerr
			} else {
				resp["result"] = res
			}
			// A notification first, to make sure the client skips it.
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "noise", "params": map[string]any{}})
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func hashFor(n uint64) string {
	var h Hash
	binary.BigEndian.PutUint64(h[24:], n+1)
	return h.String()
}

func dialFake(t *testing.T, url string, opts Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialUnreachable(t *testing.T) {
	t.Parallel()
	_, err := Dial(context.Background(), "ws://127.0.0.1:1", Options{})
	require.Error(t, err)
	require.True(t, IsConnectError(err))

	_, err = Dial(context.Background(), "", Options{})
	require.True(t, errors.Is(err, ErrConnect))
}

func TestClientBlockReads(t *testing.T) {
	t.Parallel()
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, 1_700_000_000_000)
	nowKey := EncodeHex(StoragePrefix("Timestamp", "Now"))

	url := newFakeNode(t, map[string]fakeHandler{
		"chain_getHeader": func([]json.RawMessage) (any, *RPCError) {
			return map[string]any{"number": "0x3e8"}, nil
		},
		"chain_getBlockHash": func(p []json.RawMessage) (any, *RPCError) {
			var n uint64
			if err := json.Unmarshal(p[0], &n); err != nil {
				return nil, &RPCError{Code: -32602, Message: err.Error()}
			}
			if n > 1000 {
				return nil, nil
			}
			return hashFor(n), nil
		},
		"state_getStorage": func(p []json.RawMessage) (any, *RPCError) {
			var key, at string
			_ = json.Unmarshal(p[0], &key)
			_ = json.Unmarshal(p[1], &at)
			if key == nowKey && at == hashFor(745) {
				return EncodeHex(ts), nil
			}
			return nil, nil
		},
	})
	c := dialFake(t, url, Options{})
	ctx := context.Background()

	height, err := c.CurrentBlockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), height)

	h, err := c.BlockHashAt(ctx, 745)
	require.NoError(t, err)
	require.Equal(t, hashFor(745), h.String())

	_, err = c.BlockHashAt(ctx, 5000)
	require.True(t, errors.Is(err, ErrNotFound))

	raw, err := c.StorageValue(ctx, "Timestamp", "Now", h)
	require.NoError(t, err)
	got, err := DecodeTimestamp(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000_000), got)

	other, err := c.BlockHashAt(ctx, 1)
	require.NoError(t, err)
	raw, err = c.StorageValue(ctx, "Timestamp", "Now", other)
	require.NoError(t, err)
	require.Nil(t, raw)
}

func TestClientRPCError(t *testing.T) {
	t.Parallel()
	c := dialFake(t, newFakeNode(t, map[string]fakeHandler{}), Options{})
	_, err := c.CurrentBlockHeight(context.Background())
	var rerr *RPCError
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, -32601, rerr.Code)
	require.Equal(t, "chain_getHeader", rerr.Method)
}

func TestStorageMapPages(t *testing.T) {
	t.Parallel()
	prefix := StoragePrefix("Referenda", "ReferendumInfoFor")
	var keys []string
	values := map[string]string{}
	for i := uint32(0); i < 5; i++ {
		id := make([]byte, 4)
		binary.LittleEndian.PutUint32(id, i)
		k := EncodeHex(MapKey("Referenda", "ReferendumInfoFor", id))
		keys = append(keys, k)
		values[k] = EncodeHex([]byte{byte(i)})
	}
	head := hashFor(99)
	var pages atomic.Int32

	url := newFakeNode(t, map[string]fakeHandler{
		"chain_getBlockHash": func(p []json.RawMessage) (any, *RPCError) {
			if len(p) != 0 {
				return nil, &RPCError{Code: -1, Message: "expected head lookup"}
			}
			return head, nil
		},
		"state_getKeysPaged": func(p []json.RawMessage) (any, *RPCError) {
			pages.Add(1)
			var pfx, at string
			var count int
			var start *string
			_ = json.Unmarshal(p[0], &pfx)
			_ = json.Unmarshal(p[1], &count)
			_ = json.Unmarshal(p[2], &start)
			_ = json.Unmarshal(p[3], &at)
			if pfx != EncodeHex(prefix) || at != head {
				return nil, &RPCError{Code: -1, Message: fmt.Sprintf("bad params %s %s", pfx, at)}
			}
			from := 0
			if start != nil {
				for i, k := range keys {
					if k == *start {
						from = i + 1
					}
				}
			}
			end := min(from+count, len(keys))
			return keys[from:end], nil
		},
		"state_queryStorageAt": func(p []json.RawMessage) (any, *RPCError) {
			var ks []string
			_ = json.Unmarshal(p[0], &ks)
			changes := make([][2]any, 0, len(ks))
			for _, k := range ks {
				changes = append(changes, [2]any{k, values[k]})
			}
			return []map[string]any{{"block": head, "changes": changes}}, nil
		},
	})
	c := dialFake(t, url, Options{PageSize: 2})

	var got []byte
	for e, err := range c.StorageMap(context.Background(), "Referenda", "ReferendumInfoFor") {
		require.NoError(t, err)
		require.Equal(t, prefix, e.Key[:32])
		got = append(got, e.Value...)
	}
	require.Equal(t, []byte{0, 1, 2, 3, 4}, got)
	require.EqualValues(t, 3, pages.Load())
}

func TestStorageMapYieldsError(t *testing.T) {
	t.Parallel()
	c := dialFake(t, newFakeNode(t, map[string]fakeHandler{}), Options{})
	n := 0
	for _, err := range c.StorageMap(context.Background(), "Referenda", "ReferendumInfoFor") {
		require.Error(t, err)
		n++
	}
	require.Equal(t, 1, n)
}

func TestStorageMapDefaultPageSize(t *testing.T) {
	t.Parallel()
	var count atomic.Int32
	url := newFakeNode(t, map[string]fakeHandler{
		"chain_getBlockHash": func([]json.RawMessage) (any, *RPCError) {
			return hashFor(7), nil
		},
		"state_getKeysPaged": func(p []json.RawMessage) (any, *RPCError) {
			var n int32
			_ = json.Unmarshal(p[1], &n)
			count.Store(n)
			return []string{}, nil
		},
	})
	c := dialFake(t, url, Options{})
	for _, err := range c.StorageMap(context.Background(), "Referenda", "ReferendumInfoFor") {
		require.NoError(t, err)
	}
	require.EqualValues(t, 256, count.Load())
}

func TestClientRuntimeReads(t *testing.T) {
	t.Parallel()
	url := newFakeNode(t, map[string]fakeHandler{
		"state_getRuntimeVersion": func([]json.RawMessage) (any, *RPCError) {
			return map[string]any{"specName": "polkadot", "specVersion": 1_003_000, "implVersion": 0}, nil
		},
		"state_getMetadata": func([]json.RawMessage) (any, *RPCError) {
			return "0xnot-hex", nil
		},
	})
	c := dialFake(t, url, Options{})

	v, err := c.RuntimeVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, RuntimeVersion{SpecName: "polkadot", SpecVersion: 1_003_000}, v)

	_, err = c.Metadata(context.Background())
	require.ErrorContains(t, err, "decode metadata")
}
