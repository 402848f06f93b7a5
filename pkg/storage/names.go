package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// MaxNameLen bounds a node's human-readable name.
const MaxNameLen = 16

// Names is the address -> human name map.
type Names struct {
	byAddress map[uint32]string
}

// NewNames returns an empty name table.
func NewNames() *Names {
	return &Names{byAddress: make(map[uint32]string)}
}

// Set assigns addr's display name, truncating to MaxNameLen.
func (n *Names) Set(addr uint32, name string) {
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	n.byAddress[addr] = name
}

// Get returns addr's display name, if any.
func (n *Names) Get(addr uint32) (string, bool) {
	name, ok := n.byAddress[addr]
	return name, ok
}

// namesBlobName is the conventional blob under which the name map is
// persisted.
const namesBlobName = "names.csv"

// Save writes the name map to the blob store as a two-column CSV,
// with a header row written once followed by one row per entry.
func (n *Names) Save(store BlobStore) error {
	w, err := store.OpenWrite(namesBlobName)
	if err != nil {
		return err
	}
	defer w.Close()

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"address", "name"}); err != nil {
		return err
	}
	for addr, name := range n.byAddress {
		if err := writer.Write([]string{strconv.FormatUint(uint64(addr), 10), name}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadNames reads a previously-saved name map back from the blob
// store. A missing blob is not an error: it returns an empty table.
func LoadNames(store BlobStore) (*Names, error) {
	n := NewNames()
	if !store.Exists(namesBlobName) {
		return n, nil
	}
	r, err := store.OpenRead(namesBlobName)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err := csv.NewReader(r).ReadAll()
	if err != nil && err != io.EOF {
		return nil, err
	}
	for i, row := range rows {
		if i == 0 || len(row) != 2 {
			continue
		}
		addr, err := strconv.ParseUint(row[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("storage: malformed address %q in %s: %w", row[0], namesBlobName, err)
		}
		n.byAddress[uint32(addr)] = row[1]
	}
	return n, nil
}
