package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	logx "refwatch/pkg/logx"
)

const (
	defaultDialTimeout = 15 * time.Second
	defaultCallTimeout = 30 * time.Second
	defaultPageSize    = 256
)

// Options tunes the client. Zero values pick defaults.
type Options struct {
	DialTimeout time.Duration
	CallTimeout time.Duration
	// PageSize bounds state_getKeysPaged batches during map iteration.
	PageSize int
	Log      logx.Logger
}

// Client is a synchronous JSON-RPC client bound to one WebSocket connection.
type Client struct {
	url  string
	opts Options
	log  logx.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Dial connects to the node at url. Any failure wraps ErrConnect.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrConnect)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	d := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	dctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	conn, resp, err := d.DialContext(dctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, url, err)
	}
	conn.SetReadLimit(64 << 20)

	log.Info("connected to node", logx.String("url", url))
	return &Client{url: url, opts: opts, log: log, conn: conn}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("chain: %s: client closed", method)
	}

	deadline := time.Now().Add(c.opts.CallTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	c.nextID++
	id := c.nextID
	if err := c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("chain: %s: write: %w", method, err)
	}

	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("chain: %s: read: %w", method, err)
		}
		// Skip subscription notifications and stale replies.
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			resp.Error.Method = method
			return resp.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("chain: %s: decode result: %w", method, err)
		}
		c.log.Trace("rpc call", logx.String("method", method), logx.Uint64("id", id))
		return nil
	}
}

type header struct {
	Number string `json:"number"`
}

// CurrentBlockHeight returns the number of the best block.
func (c *Client) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	var h header
	if err := c.call(ctx, "chain_getHeader", nil, &h); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(h.Number, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("chain: bad header number %q: %w", h.Number, err)
	}
	return n, nil
}

// BlockHashAt returns the canonical hash of the block at height.
func (c *Client) BlockHashAt(ctx context.Context, height uint64) (Hash, error) {
	var s *string
	if err := c.call(ctx, "chain_getBlockHash", []any{height}, &s); err != nil {
		return Hash{}, err
	}
	if s == nil {
		return Hash{}, fmt.Errorf("%w: block %d", ErrNotFound, height)
	}
	return ParseHash(*s)
}

func (c *Client) headHash(ctx context.Context) (Hash, error) {
	var s *string
	if err := c.call(ctx, "chain_getBlockHash", nil, &s); err != nil {
		return Hash{}, err
	}
	if s == nil {
		return Hash{}, fmt.Errorf("%w: head block", ErrNotFound)
	}
	return ParseHash(*s)
}

// StorageValue reads module.item at block at. A zero hash means the best block.
// It returns nil, nil when the value is not set.
func (c *Client) StorageValue(ctx context.Context, module, item string, at Hash) ([]byte, error) {
	return c.getStorage(ctx, StoragePrefix(module, item), at)
}

// StorageMapEntry reads one Blake2_128Concat-keyed entry of module.item.
func (c *Client) StorageMapEntry(ctx context.Context, module, item string, encodedKey []byte, at Hash) ([]byte, error) {
	return c.getStorage(ctx, MapKey(module, item, encodedKey), at)
}

func (c *Client) getStorage(ctx context.Context, key []byte, at Hash) ([]byte, error) {
	params := []any{EncodeHex(key)}
	if !at.IsZero() {
		params = append(params, at.String())
	}
	var s *string
	if err := c.call(ctx, "state_getStorage", params, &s); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	return DecodeHex(*s)
}

type storageChangeSet struct {
	Block   string       `json:"block"`
	Changes [][2]*string `json:"changes"`
}

// StorageMap lazily iterates every entry of module.item as of the head block
// observed when iteration starts. Iteration stops at the first error, which is
// yielded once.
func (c *Client) StorageMap(ctx context.Context, module, item string) iter.Seq2[StorageEntry, error] {
	return func(yield func(StorageEntry, error) bool) {
		at, err := c.headHash(ctx)
		if err != nil {
			yield(StorageEntry{}, err)
			return
		}
		prefix := EncodeHex(StoragePrefix(module, item))

		var start any
		for {
			var keys []string
			params := []any{prefix, c.opts.PageSize, start, at.String()}
			if err := c.call(ctx, "state_getKeysPaged", params, &keys); err != nil {
				yield(StorageEntry{}, err)
				return
			}
			if len(keys) == 0 {
				return
			}

			var sets []storageChangeSet
			if err := c.call(ctx, "state_queryStorageAt", []any{keys, at.String()}, &sets); err != nil {
				yield(StorageEntry{}, err)
				return
			}
			for _, set := range sets {
				for _, ch := range set.Changes {
					if ch[0] == nil || ch[1] == nil {
						continue
					}
					k, err := DecodeHex(*ch[0])
					if err == nil {
						var v []byte
						v, err = DecodeHex(*ch[1])
						if err == nil && !yield(StorageEntry{Key: k, Value: v}, nil) {
							return
						}
					}
					if err != nil {
						yield(StorageEntry{}, err)
						return
					}
				}
			}

			if len(keys) < c.opts.PageSize {
				return
			}
			start = keys[len(keys)-1]
		}
	}
}

// DecodeTimestamp decodes a Timestamp.Now value (u64 milliseconds).
func DecodeTimestamp(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: timestamp has %d bytes", ErrShortInput, len(raw))
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// IsConnectError reports whether err came from Dial.
func IsConnectError(err error) bool { return errors.Is(err, ErrConnect) }
