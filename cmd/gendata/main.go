// Command gendata generates a synthetic partition directory for
// exercising the query engine end to end, directly modeled on the
// teacher's cmd/data-gen: a vocabulary-driven random generator
// configured by flags and env vars, writing one file per column instead
// of a single JSON postings blob.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"colstore/dictionary"
)

const defaultOutDir = "partition-data"

var vocabulary = []string{
	"jedi", "force", "skywalker", "sith", "lightsaber", "empire", "rebellion", "droid",
	"blaster", "starship", "yoda", "clone", "trooper", "battle", "padawan", "hologram",
}

// columnManifest describes one column in manifest.json, enough for
// cmd/colstore to reconstruct a column.Column without the core engine
// depending on any particular file layout.
type columnManifest struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "int64", "float64", "category"
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

func main() {
	outDir := flag.String("dir", defaultOutDir, "Directory to write the generated partition into")
	nrows := flag.Int("nrows", 100_000, "Number of rows to generate")
	seed := flag.Int64("seed", 0, "Random seed (0 picks a fresh one)")
	flag.Parse()

	if *seed == 0 {
		id := uuid.New()
		*seed = int64(binary.LittleEndian.Uint64(id[:8]))
	}
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Printf("Error creating directory %s: %v\n", *outDir, err)
		os.Exit(1)
	}

	m := manifest{
		Name:      "gen-" + uuid.NewString()[:8],
		ID:        uuid.NewString(),
		NRows:     uint32(*nrows),
		Timestamp: 1,
	}

	if err := writeFloatColumn(*outDir, &m, "x", *nrows, 100, rng); err != nil {
		fail(err)
	}
	if err := writeFloatColumn(*outDir, &m, "y", *nrows, 1_000_000, rng); err != nil {
		fail(err)
	}
	if err := writeGaussianColumn(*outDir, &m, "z", *nrows, rng); err != nil {
		fail(err)
	}
	if err := writeCategoryColumn(*outDir, &m, "term", *nrows, rng); err != nil {
		fail(err)
	}

	mf, err := os.Create(filepath.Join(*outDir, "manifest.json"))
	if err != nil {
		fail(err)
	}
	defer mf.Close()
	enc := json.NewEncoder(mf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		fail(err)
	}

	fmt.Printf("Partition %q written to %s: %d rows, %d columns\n", m.Name, *outDir, m.NRows, len(m.Columns))
}

func writeFloatColumn(dir string, m *manifest, name string, nrows, span int, rng *rand.Rand) error {
	values := make([]float64, nrows)
	for i := range values {
		values[i] = float64(rng.Intn(span))
	}
	return appendColumn(dir, m, name, "int64", values, "")
}

func writeGaussianColumn(dir string, m *manifest, name string, nrows int, rng *rand.Rand) error {
	values := make([]float64, nrows)
	for i := range values {
		values[i] = rng.NormFloat64() * 1000
	}
	return appendColumn(dir, m, name, "float64", values, "")
}

func writeCategoryColumn(dir string, m *manifest, name string, nrows int, rng *rand.Rand) error {
	dict := dictionary.New()
	values := make([]float64, nrows)
	for i := range values {
		term := vocabulary[rng.Intn(len(vocabulary))]
		values[i] = float64(dict.Intern(term))
	}
	if err := appendColumn(dir, m, name, "category", values, "nbins:64"); err != nil {
		return err
	}
	df, err := os.Create(filepath.Join(dir, name+".dict"))
	if err != nil {
		return err
	}
	defer df.Close()
	if err := dict.Serialize(df); err != nil {
		return err
	}
	m.Dict = name + ".dict"
	return nil
}

func appendColumn(dir string, m *manifest, name, typ string, values []float64, index string) error {
	file := name + ".values"
	f, err := os.Create(filepath.Join(dir, file))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := writeValues(f, values); err != nil {
		return err
	}
	m.Columns = append(m.Columns, columnManifest{Name: name, Type: typ, File: file, Index: index})
	return nil
}

// writeValues writes values as a fixed-width little-endian float64
// array, the raw value file format §3 describes for numeric columns.
func writeValues(w io.Writer, values []float64) error {
	return binary.Write(w, binary.LittleEndian, values)
}

func fail(err error) {
	fmt.Printf("gendata: %v\n", err)
	os.Exit(1)
}
