package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/model"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMalformedLog is returned for logs missing an expected indexed topic.
	ErrMalformedLog = errors.New("malformed log")
	// ErrNotWatched is returned for logs from another address or event.
	ErrNotWatched = errors.New("log not watched")
	// ErrRemoved is returned for logs retracted by a reorg.
	ErrRemoved = errors.New("log removed by reorg")
)

// Watch is one factory address and the token-creation event it emits.
type Watch struct {
	Address      common.Address
	Topic0       common.Hash
	Signature    string
	Family       model.Family
	Label        string
	CreatorTopic bool

	event *abi.Event
}

// NewWatch builds a watch from config, attaching the ABI event when the
// index has one for its signature.
func NewWatch(ct config.Contract, events EventIndex) (*Watch, error) {
	if err := ct.Validate(); err != nil {
		return nil, err
	}
	sig := strings.ReplaceAll(ct.Event, " ", "")
	w := &Watch{
		Address:      common.HexToAddress(ct.Address),
		Topic0:       crypto.Keccak256Hash([]byte(sig)),
		Signature:    sig,
		Family:       model.Family(strings.ToLower(ct.Family)),
		Label:        ct.Label,
		CreatorTopic: ct.CreatorTopic,
	}
	if w.Label == "" {
		w.Label = eventName(sig)
	}
	if ev, ok := events.Lookup(w.Topic0); ok {
		w.event = ev
	}
	return w, nil
}

// NewWatches builds one watch per configured contract.
func NewWatches(cts []config.Contract, events EventIndex) ([]*Watch, error) {
	out := make([]*Watch, 0, len(cts))
	for i, ct := range cts {
		w, err := NewWatch(ct, events)
		if err != nil {
			return nil, fmt.Errorf("contract %d: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// ID identifies the watch in cursors and logs.
func (w *Watch) ID() string {
	return string(w.Family) + ":" + strings.ToLower(w.Address.Hex()) + ":" + eventName(w.Signature)
}

// Query returns the filter for this watch's logs.
func (w *Watch) Query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{w.Address},
		Topics:    [][]common.Hash{{w.Topic0}},
	}
}

// Decode turns a log into a deployment event. The token is the first indexed
// parameter; the creator, when configured, is the second.
func (w *Watch) Decode(lg types.Log) (model.DeploymentEvent, error) {
	var ev model.DeploymentEvent
	if lg.Address != w.Address || len(lg.Topics) == 0 || lg.Topics[0] != w.Topic0 {
		return ev, ErrNotWatched
	}
	if lg.Removed {
		return ev, ErrRemoved
	}
	if len(lg.Topics) < 2 {
		return ev, fmt.Errorf("%w: %s tx %s has no token topic", ErrMalformedLog, w.Label, lg.TxHash.Hex())
	}
	if w.CreatorTopic && len(lg.Topics) < 3 {
		return ev, fmt.Errorf("%w: %s tx %s has no creator topic", ErrMalformedLog, w.Label, lg.TxHash.Hex())
	}

	ev = model.DeploymentEvent{
		Contract:    topicAddress(lg.Topics[1]),
		TxHash:      lg.TxHash.Hex(),
		Family:      w.Family,
		BlockNumber: lg.BlockNumber,
		Label:       w.Label,
	}
	if w.CreatorTopic {
		ev.Deployer = topicAddress(lg.Topics[2])
	}
	ev.Name, ev.Symbol = w.decodeNames(lg.Data)
	return ev, nil
}

// decodeNames reads string name/symbol fields from log data when the ABI has them.
func (w *Watch) decodeNames(data []byte) (name, symbol string) {
	if w.event == nil || len(data) == 0 {
		return "", ""
	}
	_, nonIndexed := splitIndexed(w.event.Inputs)
	args := map[string]any{}
	if err := nonIndexed.UnpackIntoMap(args, data); err != nil {
		return "", ""
	}
	name, _ = args["name"].(string)
	symbol, _ = args["symbol"].(string)
	return name, symbol
}

func topicAddress(h common.Hash) string {
	return common.BytesToAddress(h.Bytes()).Hex()
}

func eventName(signature string) string {
	if i := strings.Index(signature, "("); i > 0 {
		return signature[:i]
	}
	return signature
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
