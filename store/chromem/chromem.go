// Package chromem implements store.Store on top of chromem-go, an
// embedded pure-Go vector database, run in persistent mode with one
// collection per full Scope (user, session, and role together), not
// merely per user.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	chromem "github.com/philippgille/chromem-go"
	"github.com/google/uuid"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/embedding"
	"github.com/nimlabs/memoria/errs"
	"github.com/nimlabs/memoria/store"
)

const dedupWindow = 5 * time.Second

// queryCacheTTL bounds how long a Query result is served from cache
// before falling back to chromem-go, so a cache hit can never go
// stale by more than this even if generation bumping misses a writer.
const queryCacheTTL = 10 * time.Second

// metadataListSep joins Entities/Topics into chromem-go's flat
// string-only metadata map. The unit separator control character
// cannot appear in extracted entity or topic text, so the round-trip
// through Split is lossless.
const metadataListSep = "\x1f"

// scopeMeta records which embedding variant and dimension a scope's
// collection was created with, so a later embedding-adapter switch on
// the same on-disk data is caught as a dimension_mismatch refusal
// instead of silently corrupting similarity search.
type scopeMeta struct {
	Dimension int    `json:"dimension"`
	Variant   string `json:"variant"`
}

// Store persists fragments in a chromem-go collection per scope.
type Store struct {
	db       *chromem.DB
	embedder embedding.Embedder

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	dims        map[string]scopeMeta
	dimsPath    string

	recentMu      sync.Mutex
	recentInserts map[string]time.Time

	// queryCache holds Query results keyed by scope+request+generation,
	// so repeated retrieval calls against an unchanged scope within a
	// turn don't re-pay a chromem-go round-trip. genMu/generations
	// bumps a scope's generation on every Insert/DeleteScope, which
	// folds into the cache key and makes stale entries unaddressable
	// without needing to enumerate and evict them individually.
	queryCache  *ristretto.Cache
	genMu       sync.Mutex
	generations map[string]uint64
}

// New opens (or creates) a persistent chromem-go database rooted at
// {dataDir}/vectordb, bound to embedder for the lifetime of the Store.
func New(dataDir string, embedder embedding.Embedder) (*Store, error) {
	root := filepath.Join(dataDir, "vectordb")
	db, err := chromem.NewPersistentDB(root, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "open persistent db")
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "create query cache")
	}

	s := &Store{
		db:            db,
		embedder:      embedder,
		collections:   make(map[string]*chromem.Collection),
		dims:          make(map[string]scopeMeta),
		dimsPath:      filepath.Join(root, "scope_meta.json"),
		recentInserts: make(map[string]time.Time),
		queryCache:    cache,
		generations:   make(map[string]uint64),
	}

	if err := s.loadDims(); err != nil {
		return nil, fmt.Errorf("chromem store: load scope metadata: %w", err)
	}

	for name, col := range s.db.ListCollections() {
		s.collections[name] = col
		if _, ok := s.dims[name]; !ok {
			log.Printf("[STORE] scope %q has no recorded embedding metadata; assuming current adapter", name)
			s.dims[name] = scopeMeta{Dimension: embedder.Dimensions(), Variant: string(embedder.Variant())}
		}
	}
	if err := s.saveDims(); err != nil {
		return nil, fmt.Errorf("chromem store: persist scope metadata: %w", err)
	}

	return s, nil
}

func (s *Store) loadDims() error {
	data, err := os.ReadFile(s.dimsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.dims)
}

func (s *Store) saveDims() error {
	data, err := json.MarshalIndent(s.dims, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.dimsPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.dimsPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.dimsPath)
}

// getOrCreateCollection returns the chromem collection for scope,
// refusing access if the scope was previously bound to a different
// embedding dimension or variant.
func (s *Store) getOrCreateCollection(scope core.Scope) (*chromem.Collection, error) {
	key := scope.Key()

	s.mu.RLock()
	col, exists := s.collections[key]
	meta, hasMeta := s.dims[key]
	s.mu.RUnlock()

	if exists {
		if hasMeta && (meta.Dimension != s.embedder.Dimensions() || meta.Variant != string(s.embedder.Variant())) {
			return nil, errs.New(errs.KindDimensionMismatch, fmt.Sprintf(
				"scope %q was bound to %s/%d-dim, current adapter is %s/%d-dim", key,
				meta.Variant, meta.Dimension, s.embedder.Variant(), s.embedder.Dimensions(),
			))
		}
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, exists := s.collections[key]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(key, nil, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, fmt.Sprintf("create collection %q", key))
	}
	s.collections[key] = col
	s.dims[key] = scopeMeta{Dimension: s.embedder.Dimensions(), Variant: string(s.embedder.Variant())}
	if err := s.saveDims(); err != nil {
		log.Printf("[STORE] failed to persist scope metadata for %q: %v", key, err)
	}
	return col, nil
}

func (s *Store) Insert(ctx context.Context, fragment *core.MemoryFragment) error {
	if err := fragment.Validate(); err != nil {
		return err
	}

	col, err := s.getOrCreateCollection(fragment.Scope)
	if err != nil {
		return err
	}

	dedupKey := dedupKeyFor(fragment.Scope, fragment.Content, fragment.Speaker)
	if s.seenRecently(dedupKey) {
		log.Printf("[STORE] skipping duplicate insert within dedup window: scope=%s speaker=%s", fragment.Scope.Key(), fragment.Speaker)
		return nil
	}

	vec, err := s.embedder.Embed(ctx, fragment.Content)
	if err != nil {
		return errs.Wrap(errs.KindEmbeddingFailed, err, "embedding failed during insert")
	}

	if fragment.FragmentID == "" {
		fragment.FragmentID = uuid.New().String()
	}
	if fragment.Timestamp.IsZero() {
		fragment.Timestamp = time.Now()
	}
	fragment.Embedding = vec

	doc := chromem.Document{
		ID:        fragment.FragmentID,
		Content:   fragment.Content,
		Embedding: vec,
		Metadata:  encodeMetadata(fragment),
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, err, "add document")
	}

	s.markSeen(dedupKey)
	s.bumpGeneration(fragment.Scope)
	return nil
}

func (s *Store) Query(ctx context.Context, scope core.Scope, queryText string, topK int, filters store.Filters) ([]store.ScoredFragment, error) {
	col, err := s.getOrCreateCollection(scope)
	if err != nil {
		return nil, err
	}

	cacheKey := s.queryCacheKey(scope, queryText, topK, filters)
	if cached, ok := s.queryCache.Get(cacheKey); ok {
		return cached.([]store.ScoredFragment), nil
	}

	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, errs.Wrap(errs.KindEmbeddingFailed, err, "embedding failed during query")
	}

	// Over-fetch so that post-hoc range filters (min_importance, type,
	// speaker — none of which chromem-go's string-equality `where`
	// clause can express) still leave topK survivors where possible.
	fetch := topK * 4
	if fetch < topK {
		fetch = topK
	}

	results, err := queryWithRetry(ctx, col, vec, fetch)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "query")
	}

	scored := make([]store.ScoredFragment, 0, len(results))
	for _, r := range results {
		frag, err := decodeMetadata(r.ID, r.Content, r.Embedding, r.Metadata)
		if err != nil {
			log.Printf("[STORE] skipping undecodable result %s: %v", r.ID, err)
			continue
		}
		if !passesFilters(frag, filters) {
			continue
		}
		sim := float64(r.Similarity)
		if sim < 0 {
			sim = 0
		}
		scored = append(scored, store.ScoredFragment{Fragment: frag, Similarity: sim})
	}

	if len(scored) > topK {
		scored = scored[:topK]
	}

	s.queryCache.SetWithTTL(cacheKey, scored, int64(len(scored)+1), queryCacheTTL)
	s.queryCache.Wait()
	return scored, nil
}

// queryCacheKey folds the scope's current generation into the cache
// key so an Insert or DeleteScope against the scope makes every
// previously cached Query for it unreachable without having to find
// and evict those entries individually.
func (s *Store) queryCacheKey(scope core.Scope, queryText string, topK int, filters store.Filters) string {
	s.genMu.Lock()
	gen := s.generations[scope.Key()]
	s.genMu.Unlock()
	return fmt.Sprintf("%s|%d|%s|%d|%d|%s|%s", scope.Key(), gen, queryText, topK, filters.MinImportance, filters.Speaker, filters.Type)
}

func (s *Store) bumpGeneration(scope core.Scope) {
	s.genMu.Lock()
	s.generations[scope.Key()]++
	s.genMu.Unlock()
}

func (s *Store) Count(ctx context.Context, scope core.Scope) (int, error) {
	col, err := s.getOrCreateCollection(scope)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (s *Store) List(ctx context.Context, scope core.Scope, limit int, filters store.Filters) ([]*core.MemoryFragment, error) {
	col, err := s.getOrCreateCollection(scope)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem-go has no "list all" operation; querying against the
	// zero vector still returns every document (ranked by a
	// meaningless similarity we discard), which we then sort by
	// insertion time ourselves.
	zero := make([]float32, s.embedder.Dimensions())
	results, err := queryWithRetry(ctx, col, zero, count)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, err, "list")
	}

	frags := make([]*core.MemoryFragment, 0, len(results))
	for _, r := range results {
		frag, err := decodeMetadata(r.ID, r.Content, r.Embedding, r.Metadata)
		if err != nil {
			continue
		}
		if !passesFilters(frag, filters) {
			continue
		}
		frags = append(frags, frag)
	}

	sortByTimestampDesc(frags)
	if limit > 0 && len(frags) > limit {
		frags = frags[:limit]
	}
	return frags, nil
}

func (s *Store) DeleteScope(ctx context.Context, scope core.Scope) error {
	key := scope.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(key); err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, err, fmt.Sprintf("delete collection %q", key))
	}
	delete(s.collections, key)
	delete(s.dims, key)
	if err := s.saveDims(); err != nil {
		log.Printf("[STORE] failed to persist scope metadata after delete of %q: %v", key, err)
	}
	s.bumpGeneration(scope)
	return nil
}

func (s *Store) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.queryCache.Close()
	return s.saveDims()
}

// queryWithRetry mirrors chromem-go's requirement that nResults not
// exceed the collection's document count: it shrinks the request
// until the call succeeds or the collection is empty.
func queryWithRetry(ctx context.Context, col *chromem.Collection, vec []float32, want int) ([]chromem.Result, error) {
	for n := want; n >= 1; n-- {
		results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
		if err == nil {
			return results, nil
		}
		if isInsufficientDocsError(err) {
			continue
		}
		return nil, err
	}
	return nil, nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

func passesFilters(frag *core.MemoryFragment, f store.Filters) bool {
	if f.MinImportance > 0 && frag.ImportanceScore < f.MinImportance {
		return false
	}
	if f.hasSpeaker() && frag.Speaker != f.Speaker {
		return false
	}
	if f.hasType() && frag.Type != f.Type {
		return false
	}
	return true
}

func sortByTimestampDesc(frags []*core.MemoryFragment) {
	for i := 1; i < len(frags); i++ {
		for j := i; j > 0 && frags[j].Timestamp.After(frags[j-1].Timestamp); j-- {
			frags[j], frags[j-1] = frags[j-1], frags[j]
		}
	}
}

func dedupKeyFor(scope core.Scope, content string, speaker core.Speaker) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope.Key() + "|" + string(speaker) + "|" + content))
	return strconv.FormatUint(h.Sum64(), 16)
}

func (s *Store) seenRecently(key string) bool {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	t, ok := s.recentInserts[key]
	if !ok {
		return false
	}
	return time.Since(t) < dedupWindow
}

func (s *Store) markSeen(key string) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.recentInserts[key] = time.Now()
	if len(s.recentInserts) > 4096 {
		cutoff := time.Now().Add(-dedupWindow)
		for k, t := range s.recentInserts {
			if t.Before(cutoff) {
				delete(s.recentInserts, k)
			}
		}
	}
}

func encodeMetadata(f *core.MemoryFragment) map[string]string {
	m := map[string]string{
		"user_id":          f.Scope.UserID,
		"session_id":       f.Scope.SessionID,
		"role_id":          f.Scope.RoleID,
		"speaker":          string(f.Speaker),
		"type":             string(f.Type),
		"sentiment":        string(f.Sentiment),
		"entities":         strings.Join(f.Entities, metadataListSep),
		"topics":           strings.Join(f.Topics, metadataListSep),
		"importance_score": strconv.Itoa(f.ImportanceScore),
		"confidence":       strconv.FormatFloat(f.Confidence, 'f', -1, 64),
		"timestamp":        f.Timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range f.Metadata {
		m["meta_"+k] = v
	}
	return m
}

func decodeMetadata(id, content string, embedding []float32, md map[string]string) (*core.MemoryFragment, error) {
	score, err := strconv.Atoi(md["importance_score"])
	if err != nil {
		return nil, fmt.Errorf("decode importance_score: %w", err)
	}
	confidence, _ := strconv.ParseFloat(md["confidence"], 64)
	ts, err := time.Parse(time.RFC3339Nano, md["timestamp"])
	if err != nil {
		ts = time.Time{}
	}

	meta := make(map[string]string)
	for k, v := range md {
		if strings.HasPrefix(k, "meta_") {
			meta[strings.TrimPrefix(k, "meta_")] = v
		}
	}

	var entities, topics []string
	if md["entities"] != "" {
		entities = strings.Split(md["entities"], metadataListSep)
	}
	if md["topics"] != "" {
		topics = strings.Split(md["topics"], metadataListSep)
	}

	return &core.MemoryFragment{
		FragmentID: id,
		Scope: core.Scope{
			UserID:    md["user_id"],
			SessionID: md["session_id"],
			RoleID:    md["role_id"],
		},
		Content:         content,
		Speaker:         core.Speaker(md["speaker"]),
		Type:            core.FragmentType(md["type"]),
		Sentiment:       core.Sentiment(md["sentiment"]),
		Entities:        entities,
		Topics:          topics,
		ImportanceScore: score,
		Confidence:      confidence,
		Timestamp:       ts,
		Metadata:        meta,
		Embedding:       embedding,
	}, nil
}
