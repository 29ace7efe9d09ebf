package chain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EventIndex maps a topic0 to the factory event that produces it.
type EventIndex map[common.Hash]*abi.Event

// Lookup returns the event for topic0. A nil index finds nothing.
func (x EventIndex) Lookup(topic0 common.Hash) (*abi.Event, bool) {
	ev, ok := x[topic0]
	return ev, ok
}

// LoadFactoryEvents indexes the events of every *.json ABI under dirs.
// Directories that do not exist are skipped. When two files define the same
// topic the one with the lexically smaller path wins.
func LoadFactoryEvents(dirs []string) (EventIndex, error) {
	var files []string
	for _, dir := range dirs {
		found, err := abiFiles(dir)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	sort.Strings(files)

	idx := EventIndex{}
	for i, path := range files {
		if i > 0 && files[i-1] == path {
			continue
		}
		parsed, err := parseABIFile(path)
		if err != nil {
			return nil, err
		}
		for name := range parsed.Events {
			ev := parsed.Events[name]
			if _, taken := idx[ev.ID]; !taken {
				idx[ev.ID] = &ev
			}
		}
	}
	return idx, nil
}

func abiFiles(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	root := filepath.Clean(dir)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return fmt.Errorf("scan abi dir %s: %w", root, err)
		case d.IsDir():
			return nil
		case strings.EqualFold(filepath.Ext(path), ".json"):
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func parseABIFile(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("open abi: %w", err)
	}
	defer f.Close()
	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("abi %s: %w", filepath.Base(path), err)
	}
	return parsed, nil
}
