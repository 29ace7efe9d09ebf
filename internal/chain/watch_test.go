package chain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const factoryABIJSON = `[
	{"type":"event","name":"TokenCreated","inputs":[
		{"name":"token","type":"address","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"name","type":"string","indexed":false},
		{"name":"symbol","type":"string","indexed":false}
	]}
]`

const (
	factoryAddr = "0x1111111111111111111111111111111111111111"
	tokenAddr   = "0x2222222222222222222222222222222222222222"
	creatorAddr = "0x3333333333333333333333333333333333333333"
	createdSig  = "TokenCreated(address,address,string,string)"
)

func writeABI(t *testing.T) EventIndex {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "factory.json"), []byte(factoryABIJSON), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}
	events, err := LoadFactoryEvents([]string{dir, "", filepath.Join(dir, "missing")})
	if err != nil {
		t.Fatalf("load abis: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	return events
}

func TestWatchDecodesCreatorAndNames(t *testing.T) {
	events := writeABI(t)
	w, err := NewWatch(config.Contract{
		Family:       "Secondary",
		Address:      factoryAddr,
		Event:        createdSig,
		Label:        "factory-v2",
		CreatorTopic: true,
	}, events)
	if err != nil {
		t.Fatalf("new watch: %v", err)
	}
	if w.Family != model.FamilySecondary {
		t.Fatalf("family not normalized: %s", w.Family)
	}

	created, ok := events.Lookup(crypto.Keccak256Hash([]byte(createdSig)))
	if !ok {
		t.Fatalf("event not indexed by topic")
	}
	data, err := created.Inputs.NonIndexed().Pack("Moon Frog", "MFROG")
	if err != nil {
		t.Fatalf("pack data: %v", err)
	}

	lg := types.Log{
		Address:     common.HexToAddress(factoryAddr),
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte(createdSig)), addrTopic(tokenAddr), addrTopic(creatorAddr)},
		Data:        data,
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: 42,
	}

	ev, err := w.Decode(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Contract != common.HexToAddress(tokenAddr).Hex() {
		t.Fatalf("unexpected token %s", ev.Contract)
	}
	if ev.Deployer != common.HexToAddress(creatorAddr).Hex() {
		t.Fatalf("unexpected creator %s", ev.Deployer)
	}
	if ev.Name != "Moon Frog" || ev.Symbol != "MFROG" {
		t.Fatalf("names not decoded: %q %q", ev.Name, ev.Symbol)
	}
	if ev.BlockNumber != 42 || ev.Label != "factory-v2" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestWatchWithoutCreatorTopic(t *testing.T) {
	w, err := NewWatch(config.Contract{Family: "primary", Address: factoryAddr, Event: "Launched(address)"}, nil)
	if err != nil {
		t.Fatalf("new watch: %v", err)
	}
	lg := types.Log{
		Address: common.HexToAddress(factoryAddr),
		Topics:  []common.Hash{crypto.Keccak256Hash([]byte("Launched(address)")), addrTopic(tokenAddr), addrTopic(creatorAddr)},
	}
	ev, err := w.Decode(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.HasDeployer() {
		t.Fatalf("deployer should be empty without creator_topic, got %s", ev.Deployer)
	}
	if w.Label != "Launched" {
		t.Fatalf("label should default to event name, got %s", w.Label)
	}
}

func TestWatchRejectsMalformedAndForeignLogs(t *testing.T) {
	w, err := NewWatch(config.Contract{Family: "primary", Address: factoryAddr, Event: createdSig, CreatorTopic: true}, nil)
	if err != nil {
		t.Fatalf("new watch: %v", err)
	}
	topic0 := crypto.Keccak256Hash([]byte(createdSig))

	cases := []struct {
		name string
		log  types.Log
		want error
	}{
		{"other address", types.Log{Address: common.HexToAddress(tokenAddr), Topics: []common.Hash{topic0}}, ErrNotWatched},
		{"other event", types.Log{Address: common.HexToAddress(factoryAddr), Topics: []common.Hash{common.HexToHash("0x01")}}, ErrNotWatched},
		{"no topics", types.Log{Address: common.HexToAddress(factoryAddr)}, ErrNotWatched},
		{"no token topic", types.Log{Address: common.HexToAddress(factoryAddr), Topics: []common.Hash{topic0}}, ErrMalformedLog},
		{"no creator topic", types.Log{Address: common.HexToAddress(factoryAddr), Topics: []common.Hash{topic0, addrTopic(tokenAddr)}}, ErrMalformedLog},
		{"removed", types.Log{Address: common.HexToAddress(factoryAddr), Topics: []common.Hash{topic0, addrTopic(tokenAddr), addrTopic(creatorAddr)}, Removed: true}, ErrRemoved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := w.Decode(tc.log); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWatchQueryAndID(t *testing.T) {
	w, err := NewWatch(config.Contract{Family: "primary", Address: factoryAddr, Event: "Launched(address)"}, nil)
	if err != nil {
		t.Fatalf("new watch: %v", err)
	}
	q := w.Query()
	if len(q.Addresses) != 1 || q.Addresses[0] != common.HexToAddress(factoryAddr) {
		t.Fatalf("unexpected addresses %v", q.Addresses)
	}
	if len(q.Topics) != 1 || q.Topics[0][0] != w.Topic0 {
		t.Fatalf("unexpected topics %v", q.Topics)
	}
	if got := w.ID(); got != "primary:"+factoryAddr+":Launched" {
		t.Fatalf("unexpected id %s", got)
	}
}

func TestNewWatchesRejectsBadContract(t *testing.T) {
	_, err := NewWatches([]config.Contract{
		{Family: "primary", Address: factoryAddr, Event: "Launched(address)"},
		{Family: "tertiary", Address: factoryAddr, Event: "Launched(address)"},
	}, nil)
	if err == nil {
		t.Fatalf("expected unsupported family to fail")
	}
}

func TestLoadFactoryEventsPrefersFirstPath(t *testing.T) {
	dir := t.TempDir()
	// Same signature with the creator no longer indexed.
	variant := strings.Replace(factoryABIJSON, `"creator","type":"address","indexed":true`, `"creator","type":"address","indexed":false`, 1)
	if err := os.MkdirAll(filepath.Join(dir, "b"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.JSON"), []byte(factoryABIJSON), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b", "factory.json"), []byte(variant), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}

	events, err := LoadFactoryEvents([]string{filepath.Join(dir, "b"), dir})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ev, ok := events.Lookup(crypto.Keccak256Hash([]byte(createdSig)))
	if !ok {
		t.Fatalf("event missing")
	}
	if !ev.Inputs[1].Indexed {
		t.Fatalf("expected the event from a.JSON to win")
	}
}

func TestLoadFactoryEventsNamesBadFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadFactoryEvents([]string{dir})
	if err == nil || !strings.Contains(err.Error(), "broken.json") {
		t.Fatalf("expected error naming broken.json, got %v", err)
	}
}

func TestNilEventIndexFindsNothing(t *testing.T) {
	var events EventIndex
	if _, ok := events.Lookup(common.HexToHash("0x01")); ok {
		t.Fatalf("nil index should find nothing")
	}
}

func addrTopic(addr string) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32))
}
