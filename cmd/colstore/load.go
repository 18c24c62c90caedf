package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"colstore/bin"
	"colstore/column"
	"colstore/dictionary"
	"colstore/partition"
)

// columnManifest mirrors cmd/gendata's manifest entry for one column;
// kept as a private duplicate rather than a shared package since the
// manifest format is data-loading glue, explicitly outside the core
// engine's contract (spec.md §1 excludes "all data-loading / append
// paths" from the core).
type columnManifest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	File     string `json:"file"`
	NullFile string `json:"null_file,omitempty"`
	Index    string `json:"index,omitempty"`
}

type manifest struct {
	Name      string           `json:"name"`
	ID        string           `json:"id"`
	NRows     uint32           `json:"nrows"`
	Timestamp int64            `json:"timestamp"`
	Dict      string           `json:"dict,omitempty"`
	Columns   []columnManifest `json:"columns"`
}

func readManifest(dir string) (manifest, error) {
	var m manifest
	f, err := os.Open(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return m, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// loadPartition reconstructs a partition.Partition and its dictionary
// set from a manifest-described directory, the collaborator loading
// path cmd/colstore drives the core engine through.
func loadPartition(dir string) (*partition.Partition, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	var dict *dictionary.Dictionary
	if m.Dict != "" {
		df, err := os.Open(filepath.Join(dir, m.Dict))
		if err != nil {
			return nil, fmt.Errorf("open dictionary: %w", err)
		}
		defer df.Close()
		dict, err = dictionary.Deserialize(df)
		if err != nil {
			return nil, fmt.Errorf("decode dictionary: %w", err)
		}
	}

	p := partition.New(m.Name, m.NRows)
	p.Timestamp = m.Timestamp

	for _, cm := range m.Columns {
		values, err := readValues(filepath.Join(dir, cm.File), m.NRows)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", cm.Name, err)
		}
		opts := bin.DefaultOptions()
		if cm.Index != "" {
			if parsed, err := bin.ParseSpec(cm.Index); err == nil {
				opts = parsed
			}
		}
		typ := column.Float64
		if cm.Type == "int64" {
			typ = column.Int64
		} else if cm.Type == "category" {
			typ = column.Text
		}
		col := column.NewColumn(cm.Name, typ, values, nil, opts)
		if cm.Type == "category" {
			if dict == nil {
				return nil, fmt.Errorf("column %s: category column with no dictionary", cm.Name)
			}
			p.AddTextColumn(cm.Name, col, dict)
		} else {
			p.AddColumn(cm.Name, col)
		}
	}
	return p, nil
}

func readValues(path string, nrows uint32) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	values := make([]float64, nrows)
	if err := binary.Read(f, binary.LittleEndian, values); err != nil {
		return nil, err
	}
	return values, nil
}
