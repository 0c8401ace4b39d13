// Package index is the durable full-text store: a bleve index of
// SessionRecords with fuzzy term search over title and content, exact-term
// filtering over agent, and full-document retrieval. It is the single
// source of truth for indexed sessions — the original files are only
// re-read when an adapter reports them changed.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/marcus/fastresume/internal/record"
)

const schemaVersionFile = ".schema_version"

// fuzziness is the edit distance used for fuzzy term queries.
const fuzziness = 1

// fuzzyPrefixLength bounds how many leading characters of a token must
// match exactly before fuzzy edit-distance scoring applies. Kept small so
// a typo near the start of a word (e.g. "athentication") still matches.
const fuzzyPrefixLength = 1

// Index wraps a bleve index with the schema-version lifecycle and the
// SessionRecord marshal/unmarshal conventions the rest of the system
// depends on.
type Index struct {
	bleve         bleve.Index
	path          string
	schemaVersion int
}

// sessionDoc is the bleve document shape. Fields tagged for indexing match
// the "Index document" field list exactly.
type sessionDoc struct {
	ID           string  `json:"id"`
	Agent        string  `json:"agent"`
	Title        string  `json:"title"`
	Directory    string  `json:"directory"`
	Content      string  `json:"content"`
	Timestamp    float64 `json:"timestamp"`
	MessageCount int     `json:"message_count"`
	MTime        float64 `json:"mtime"`
	Yolo         bool    `json:"yolo"`
}

// Open lazily opens or creates the index at path. If the on-disk schema
// version stamp doesn't match schemaVersion, the whole index directory is
// dropped and rebuilt empty.
func Open(path string, schemaVersion int) (*Index, error) {
	if onDiskVersion, err := readSchemaVersion(path); err == nil && onDiskVersion != schemaVersion {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("drop stale index at %s: %w", path, err)
		}
	}

	idx, err := bleve.Open(path)
	if err != nil {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index parent dir: %w", err)
		}
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create index at %s: %w", path, err)
		}
	}

	if err := writeSchemaVersion(path, schemaVersion); err != nil {
		idx.Close()
		return nil, fmt.Errorf("stamp schema version: %w", err)
	}

	return &Index{bleve: idx, path: path, schemaVersion: schemaVersion}, nil
}

// Close releases the underlying index resources.
func (ix *Index) Close() error {
	return ix.bleve.Close()
}

func readSchemaVersion(indexPath string) (int, error) {
	data, err := os.ReadFile(filepath.Join(indexPath, schemaVersionFile))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writeSchemaVersion(indexPath string, version int) error {
	if err := os.MkdirAll(indexPath, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(indexPath, schemaVersionFile), []byte(strconv.Itoa(version)), 0o644)
}

// buildMapping constructs the field mapping: title and content are
// tokenised and case-folded for free-text search; agent is an exact-term
// filter field; everything else is stored-only.
func buildMapping() *mapping.IndexMappingImpl {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard"

	agentField := bleve.NewTextFieldMapping()
	agentField.Analyzer = keyword.Name

	storedOnly := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Index = false
		f.Store = true
		return f
	}

	numericStored := func() *mapping.FieldMapping {
		f := bleve.NewNumericFieldMapping()
		f.Index = false
		f.Store = true
		return f
	}

	boolStored := func() *mapping.FieldMapping {
		f := bleve.NewBooleanFieldMapping()
		f.Index = false
		f.Store = true
		return f
	}

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", textField)
	doc.AddFieldMappingsAt("content", textField)
	doc.AddFieldMappingsAt("agent", agentField)
	doc.AddFieldMappingsAt("id", storedOnly())
	doc.AddFieldMappingsAt("directory", storedOnly())
	doc.AddFieldMappingsAt("timestamp", numericStored())
	doc.AddFieldMappingsAt("message_count", numericStored())
	doc.AddFieldMappingsAt("mtime", numericStored())
	doc.AddFieldMappingsAt("yolo", boolStored())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = "standard"
	return m
}

func toDoc(s record.Session) sessionDoc {
	return sessionDoc{
		ID:           s.ID,
		Agent:        s.Agent,
		Title:        s.Title,
		Directory:    s.Directory,
		Content:      s.Content,
		Timestamp:    float64(s.Timestamp.Unix()),
		MessageCount: s.MessageCount,
		MTime:        s.MTime,
		Yolo:         s.Yolo,
	}
}

func fromDoc(d sessionDoc) record.Session {
	return record.Session{
		ID:           d.ID,
		Agent:        d.Agent,
		Title:        d.Title,
		Directory:    d.Directory,
		Timestamp:    time.Unix(int64(d.Timestamp), 0),
		Preview:      record.BuildPreview(d.Content),
		Content:      d.Content,
		MessageCount: d.MessageCount,
		MTime:        d.MTime,
		Yolo:         d.Yolo,
	}
}

// Add indexes sessions and commits. Callers must delete any prior version
// of each id first: Add never replaces in place.
func (ix *Index) Add(sessions []record.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	batch := ix.bleve.NewBatch()
	for _, s := range sessions {
		if err := batch.Index(s.ID, toDoc(s)); err != nil {
			return fmt.Errorf("index %s: %w", s.ID, err)
		}
	}
	if err := ix.bleve.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// DeleteIDs removes documents by id and commits.
func (ix *Index) DeleteIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := ix.bleve.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := ix.bleve.Batch(batch); err != nil {
		return fmt.Errorf("commit delete batch: %w", err)
	}
	return nil
}

// KnownSessions returns every document's (id, mtime, agent), the view
// adapters use to compute an incremental diff.
func (ix *Index) KnownSessions() (record.KnownMap, error) {
	count, err := ix.bleve.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if count == 0 {
		return record.KnownMap{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	req.Fields = []string{"id", "agent", "mtime"}
	result, err := ix.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("known_sessions scan: %w", err)
	}

	known := make(record.KnownMap, len(result.Hits))
	for _, hit := range result.Hits {
		id, _ := hit.Fields["id"].(string)
		agent, _ := hit.Fields["agent"].(string)
		mtime, _ := hit.Fields["mtime"].(float64)
		if id == "" {
			continue
		}
		known[id] = record.KnownEntry{
			MTime: time.Unix(0, int64(mtime*float64(time.Second))),
			Agent: agent,
		}
	}
	return known, nil
}

// AllSessions reconstructs every stored SessionRecord.
func (ix *Index) AllSessions() ([]record.Session, error) {
	count, err := ix.bleve.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	req.Fields = []string{"id", "agent", "title", "directory", "content", "timestamp", "message_count", "mtime", "yolo"}
	result, err := ix.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("all_sessions scan: %w", err)
	}

	sessions := make([]record.Session, 0, len(result.Hits))
	for _, hit := range result.Hits {
		sessions = append(sessions, fromDoc(docFromFields(hit.Fields)))
	}
	return sessions, nil
}

func docFromFields(fields map[string]interface{}) sessionDoc {
	str := func(k string) string {
		v, _ := fields[k].(string)
		return v
	}
	num := func(k string) float64 {
		v, _ := fields[k].(float64)
		return v
	}
	b, _ := fields["yolo"].(bool)
	return sessionDoc{
		ID:           str("id"),
		Agent:        str("agent"),
		Title:        str("title"),
		Directory:    str("directory"),
		Content:      str("content"),
		Timestamp:    num("timestamp"),
		MessageCount: int(num("message_count")),
		MTime:        num("mtime"),
		Yolo:         b,
	}
}

// Hit is one search result: a session id paired with its relevance score.
type Hit struct {
	ID    string
	Score float64
}

// Search tokenises query on whitespace and builds, per token, a fuzzy
// term query (edit distance 1) and a term-prefix query, OR'd across title
// and content; tokens are AND'd together. agentFilter, if non-empty, ANDs an
// exact-term clause on agent. An empty query or a construction failure
// both return an empty result set.
func (ix *Index) Search(q, agentFilter string, limit int) ([]Hit, error) {
	tokens := strings.Fields(q)
	if len(tokens) == 0 {
		return nil, nil
	}

	var clauses []query.Query
	for _, tok := range tokens {
		prefixLen := fuzzyPrefixLength
		if len(tok) < prefixLen {
			prefixLen = len(tok)
		}

		titleQ := bleve.NewFuzzyQuery(tok)
		titleQ.SetField("title")
		titleQ.SetFuzziness(fuzziness)
		titleQ.SetPrefix(prefixLen)

		contentQ := bleve.NewFuzzyQuery(tok)
		contentQ.SetField("content")
		contentQ.SetFuzziness(fuzziness)
		contentQ.SetPrefix(prefixLen)

		titlePrefixQ := bleve.NewPrefixQuery(tok)
		titlePrefixQ.SetField("title")

		contentPrefixQ := bleve.NewPrefixQuery(tok)
		contentPrefixQ.SetField("content")

		clauses = append(clauses, bleve.NewDisjunctionQuery(titleQ, contentQ, titlePrefixQ, contentPrefixQ))
	}

	var root query.Query = bleve.NewConjunctionQuery(clauses...)
	if agentFilter != "" {
		agentQ := bleve.NewTermQuery(agentFilter)
		agentQ.SetField("agent")
		root = bleve.NewConjunctionQuery(root, agentQ)
	}

	req := bleve.NewSearchRequestOptions(root, limit, 0, false)
	result, err := ix.bleve.Search(req)
	if err != nil {
		return nil, nil //nolint:nilerr // malformed query: swallow, return empty
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}
