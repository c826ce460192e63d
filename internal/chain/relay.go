package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	methodAlchemyPrivate = "alchemy_sendPrivateTransaction"
	methodPrivateRaw     = "eth_sendPrivateRawTransaction"
)

// RelayClient submits signed transactions to a private relay endpoint.
type RelayClient struct {
	url    string
	method string
	client *rpc.Client
}

// DialRelay connects to a relay. The submission method is picked from the URL:
// Alchemy endpoints take {"tx": raw}, everything else takes the bare raw hex.
func DialRelay(ctx context.Context, url string) (*RelayClient, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &RelayClient{url: url, method: RelayMethod(url), client: client}, nil
}

// RelayMethod returns the JSON-RPC method used for a relay URL.
func RelayMethod(url string) string {
	if strings.Contains(strings.ToLower(url), "alchemy") {
		return methodAlchemyPrivate
	}
	return methodPrivateRaw
}

// URL returns the relay endpoint.
func (r *RelayClient) URL() string {
	return r.url
}

// Close closes the relay connection.
func (r *RelayClient) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// SendRawTransaction submits RLP-encoded signed bytes and returns the relay's tx hash.
func (r *RelayClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	rawHex := hexutil.Encode(raw)

	var hash common.Hash
	var err error
	if r.method == methodAlchemyPrivate {
		err = r.client.CallContext(ctx, &hash, r.method, map[string]string{"tx": rawHex})
	} else {
		err = r.client.CallContext(ctx, &hash, r.method, rawHex)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s via %s: %w", r.method, r.url, err)
	}
	return hash, nil
}
