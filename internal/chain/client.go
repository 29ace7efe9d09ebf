// Package chain owns the websocket connection to the node and turns factory
// logs into deployment events.
package chain

import (
	"context"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client captures the subset of ethclient used by the supervisor.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

var _ Client = (*ethclient.Client)(nil)

// Dial opens a websocket (or any rpc) connection to a node.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial node: %w", err)
	}
	return c, nil
}

// Dialer returns a function that dials url with the handshake timeout applied.
func Dialer(url string) func(ctx context.Context) (Client, error) {
	return func(ctx context.Context) (Client, error) {
		c, err := Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
