package chain

import (
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	logx "refwatch/pkg/logx"
)

// RuntimeVersion identifies the runtime the node is executing.
type RuntimeVersion struct {
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

func (c *Client) RuntimeVersion(ctx context.Context) (RuntimeVersion, error) {
	var v RuntimeVersion
	if err := c.call(ctx, "state_getRuntimeVersion", nil, &v); err != nil {
		return RuntimeVersion{}, err
	}
	return v, nil
}

// Metadata fetches and decodes the runtime metadata of the best block.
func (c *Client) Metadata(ctx context.Context) (*types.Metadata, error) {
	var s string
	if err := c.call(ctx, "state_getMetadata", nil, &s); err != nil {
		return nil, err
	}
	var meta types.Metadata
	if err := types.DecodeFromHexString(s, &meta); err != nil {
		return nil, fmt.Errorf("chain: decode metadata: %w", err)
	}
	c.log.Debug("runtime metadata loaded", logx.Int("version", int(meta.Version)), logx.Int("bytes", len(s)/2))
	return &meta, nil
}
