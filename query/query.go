package query

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"colstore/bitmap"
	"colstore/config"
	"colstore/encoders"
	"colstore/expr"
)

// RID names a row across partitions by a (run, event) pair.
type RID struct {
	Run, Event uint32
}

// Query is the in-memory cache of a query's cache-directory state: its
// selection list, predicate, optional RID list, and the two result
// bitmaps (Hits = confirmed, Sup = superset; Sup == Hits means exact).
// A reader-writer lock serializes concurrent estimate/evaluate calls
// against the query's own getters, per the "query's own reader-writer
// lock" contract.
type Query struct {
	mu sync.RWMutex

	Token         string
	UID           string
	PartitionName string
	Select        []string
	Where         expr.Node
	RIDs          []RID
	State         State
	Timestamp     int64

	Hits *bitmap.Bitmap
	Sup  *bitmap.Bitmap

	// HitRIDs is the row-id projection of Hits, populated on Load from
	// the "rids" cache file when present.
	HitRIDs []RID

	CacheDir string
}

// New creates a query in the UNINITIALIZED state, generating a fresh
// cache-directory token under root.
func New(uid, root string) (*Query, error) {
	tok, err := NewToken(uid)
	if err != nil {
		return nil, err
	}
	return &Query{
		Token:    tok,
		UID:      uid,
		State:    Uninitialized,
		CacheDir: filepath.Join(root, tok),
	}, nil
}

// NewWithConfig is New, except the cache-directory root is resolved from
// cfg's "CacheDirectory"/"CacheDir" keys, falling back to defaultRoot
// when neither is configured.
func NewWithConfig(uid string, cfg *config.Config, defaultRoot string) (*Query, error) {
	return New(uid, config.CacheDirectory(cfg, defaultRoot))
}

// Clear removes the query's cache directory when cfg's
// "<partitionName>.purgeTempFiles" key (or the global fallback)
// resolves true; otherwise the directory is left on disk for reuse.
func (q *Query) Clear(cfg *config.Config) error {
	q.mu.RLock()
	dir := q.CacheDir
	partition := q.PartitionName
	q.mu.RUnlock()
	if dir == "" || !config.PurgeTempFiles(cfg, partition) {
		return nil
	}
	return os.RemoveAll(dir)
}

func (q *Query) invalidateResults() {
	if q.State.hasResults() {
		q.Hits = nil
		q.Sup = nil
		q.State = Specified
	}
}

func (q *Query) promoteIfReady() {
	if q.State == Uninitialized {
		return
	}
	hasSelect := q.Select != nil
	hasPredicate := q.Where != nil || q.RIDs != nil
	if hasSelect && hasPredicate {
		q.State = Specified
	}
}

// SetSelectClause sets the projection column list.
func (q *Query) SetSelectClause(cols []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(cols) == 0 {
		return newError(ErrBadSelect1, "empty select clause")
	}
	q.invalidateResults()
	q.Select = cols
	if q.State == Uninitialized {
		q.State = SetComponents
	}
	q.promoteIfReady()
	return nil
}

// SetRIDs sets an explicit input row-id list in place of a predicate.
func (q *Query) SetRIDs(rids []RID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(rids) == 0 {
		return newError(ErrEmptyRIDs, "empty RID list")
	}
	q.invalidateResults()
	q.RIDs = rids
	q.Where = nil
	if q.State == Uninitialized {
		q.State = SetRIDs
	}
	q.promoteIfReady()
	return nil
}

// SetWhereClause sets the predicate tree.
func (q *Query) SetWhereClause(n expr.Node) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n == nil {
		return newError(ErrBadWhere1, "nil predicate")
	}
	q.invalidateResults()
	q.Where = n
	q.RIDs = nil
	if q.State == Uninitialized {
		q.State = SetPredicate
	}
	q.promoteIfReady()
	return nil
}

// BeginEstimate transitions a SPECIFIED query to QUICK_ESTIMATE,
// returning an error if the query is not ready (no partition bound, no
// predicate/RIDs set).
func (q *Query) BeginEstimate(partitionBound bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !partitionBound {
		return newError(ErrNilPartition, "no partition bound to query")
	}
	if q.State != Specified {
		if q.Where == nil && q.RIDs == nil {
			return newError(ErrNoPredicate, "neither where clause nor RIDs set")
		}
		return newError(ErrBadWhere2, "query not in SPECIFIED state (got %s)", q.State)
	}
	q.State = QuickEstimate
	return nil
}

// BeginEvaluate transitions a SPECIFIED (or already-estimated) query to
// FULL_EVALUATE.
func (q *Query) BeginEvaluate(partitionBound bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !partitionBound {
		return newError(ErrNilPartition, "no partition bound to query")
	}
	if q.State != Specified && q.State != QuickEstimate {
		return newError(ErrBadWhere3, "query not ready to evaluate (state %s)", q.State)
	}
	q.State = FullEvaluate
	return nil
}

// CheckTimestamp compares the partition's current snapshot timestamp
// against the one results were computed under; if it has advanced, the
// cached bitmaps are discarded and the state reverts to SPECIFIED.
func (q *Query) CheckTimestamp(current int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Timestamp != 0 && current != q.Timestamp {
		q.Hits = nil
		q.Sup = nil
		q.State = Specified
	}
	q.Timestamp = current
}

// SetResults records the outcome of an evaluate/estimate pass.
func (q *Query) SetResults(hits, sup *bitmap.Bitmap, final bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Hits, q.Sup = hits, sup
	if final {
		q.State = FullEvaluate
	} else {
		q.State = QuickEstimate
	}
}

// GetNumHits returns the confirmed hit count, failing with -11 if the
// query has not been fully evaluated.
func (q *Query) GetNumHits() (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.State != FullEvaluate && q.State != BundlesTruncated && q.State != HitsTruncated {
		return 0, newError(ErrNotFullyEvaluated, "query has not been fully evaluated")
	}
	return q.Hits.Cnt(), nil
}

// GetHits returns the confirmed hit bitmap.
func (q *Query) GetHits() (*bitmap.Bitmap, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.Hits == nil {
		return nil, newError(ErrNotFullyEvaluated, "no hits computed yet")
	}
	return q.Hits, nil
}

// Save persists the query's state to its cache directory: a `query`
// text file (uid, partition, select, state, timestamp, where/RIDs) and,
// if fully evaluated, a `hits` file holding the serialized bitmap.
func (q *Query) Save() error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.CacheDir == "" {
		return newError(ErrNoCacheDir, "query has no cache directory")
	}
	if err := os.MkdirAll(q.CacheDir, 0o755); err != nil {
		return fmt.Errorf("query: create cache dir: %w", err)
	}

	f, err := os.Create(filepath.Join(q.CacheDir, "query"))
	if err != nil {
		return fmt.Errorf("query: create query file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, q.UID)
	fmt.Fprintln(w, q.PartitionName)
	if q.Select == nil {
		fmt.Fprintln(w, "<NULL>")
	} else {
		fmt.Fprintln(w, strings.Join(q.Select, ","))
	}
	fmt.Fprintln(w, int(q.State))
	fmt.Fprintln(w, q.Timestamp)
	if q.Where == nil {
		fmt.Fprintln(w, "<NULL>")
	} else {
		fmt.Fprintln(w, encodeWhere(q.Where))
	}
	for _, r := range q.RIDs {
		fmt.Fprintf(w, "run %d event %d\n", r.Run, r.Event)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("query: write query file: %w", err)
	}

	if q.State == FullEvaluate && q.Hits != nil {
		hf, err := os.Create(filepath.Join(q.CacheDir, "hits"))
		if err != nil {
			return fmt.Errorf("query: create hits file: %w", err)
		}
		defer hf.Close()
		if err := q.Hits.Serialize(hf); err != nil {
			return fmt.Errorf("query: serialize hits: %w", err)
		}

		rf, err := os.Create(filepath.Join(q.CacheDir, "rids"))
		if err != nil {
			return fmt.Errorf("query: create rids file: %w", err)
		}
		defer rf.Close()
		if err := writeHitRIDs(q.Hits, rf); err != nil {
			return fmt.Errorf("query: write rids file: %w", err)
		}
	}
	return nil
}

// writeHitRIDs projects hits' set positions into row ids (run 0, event
// = row) and persists them delta-encoded, matching the "rids" cache
// file's pairs-of-32-bit-run/event layout in §6. A single-partition
// deployment has one run, so this degenerates to just the row numbers;
// a multi-partition caller that needs real run numbers writes its own
// rids file via encoders.EncodeRIDs directly instead of Save.
func writeHitRIDs(hits *bitmap.Bitmap, w io.Writer) error {
	positions, err := hits.ToPositions()
	if err != nil {
		return err
	}
	runs := make([]uint32, len(positions))
	enc := encoders.NewDeltaEncoder(8)
	return encoders.EncodeRIDs(enc, runs, positions, w)
}

// readHitRIDs reads back a rids file written by writeHitRIDs (or any
// run/event stream encoded the same way) as a slice of RID.
func readHitRIDs(r io.Reader) ([]RID, error) {
	enc := encoders.NewDeltaEncoder(8)
	runs, events, err := encoders.DecodeRIDs(enc, r)
	if err != nil {
		return nil, err
	}
	out := make([]RID, len(runs))
	for i := range runs {
		out[i] = RID{Run: runs[i], Event: events[i]}
	}
	return out, nil
}

// Load reconstructs a Query from its cache directory. If the recovered
// state was FULL_EVALUATE, the hits bitmap is also read; any I/O
// failure there demotes the query to SPECIFIED rather than failing
// outright, consistent with "on disk state is either the last
// successful state or SPECIFIED".
func Load(dir string) (*Query, error) {
	f, err := os.Open(filepath.Join(dir, "query"))
	if err != nil {
		return nil, fmt.Errorf("query: open query file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := make([]string, 0, 6)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("query: read query file: %w", err)
	}
	if len(lines) < 6 {
		return nil, fmt.Errorf("query: truncated query file (%d lines)", len(lines))
	}

	q := &Query{CacheDir: dir, Token: filepath.Base(dir)}
	q.UID = lines[0]
	q.PartitionName = lines[1]
	if lines[2] != "<NULL>" {
		q.Select = strings.Split(lines[2], ",")
	}
	stateNum, err := strconv.Atoi(lines[3])
	if err != nil {
		return nil, fmt.Errorf("query: bad state field: %w", err)
	}
	q.State = State(stateNum)
	ts, err := strconv.ParseInt(lines[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("query: bad timestamp field: %w", err)
	}
	q.Timestamp = ts
	if lines[5] != "<NULL>" {
		q.Where = decodeWhere(lines[5])
	}
	for _, line := range lines[6:] {
		var run, event uint32
		if _, err := fmt.Sscanf(line, "run %d event %d", &run, &event); err == nil {
			q.RIDs = append(q.RIDs, RID{Run: run, Event: event})
		}
	}

	if q.State == FullEvaluate {
		hf, err := os.Open(filepath.Join(dir, "hits"))
		if err != nil {
			q.State = Specified
			return q, nil
		}
		defer hf.Close()
		hits, err := bitmap.Deserialize(hf)
		if err != nil {
			q.State = Specified
			return q, nil
		}
		q.Hits = hits
		q.Sup = hits

		if rf, err := os.Open(filepath.Join(dir, "rids")); err == nil {
			rids, err := readHitRIDs(rf)
			rf.Close()
			if err == nil {
				q.HitRIDs = rids
			}
		}
	}
	return q, nil
}
