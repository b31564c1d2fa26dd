// Package resources provides the bounded-memory page cache and in-flight
// slot semaphore shared by the ingestion pipeline. A fetched/processed Page
// is expensive to reproduce (requires re-fetching and re-extracting), so a
// capacity-bounded LRU holds the hottest pages in memory and, when a spill
// directory is configured, spills evicted entries to disk; without one,
// evicted entries are dropped.
package resources

import (
	"bufio"
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// Config controls cache capacity, in-flight concurrency, and checkpoint
// behavior for a Manager.
type Config struct {
	CacheCapacity      int
	MaxInFlight        int
	SpillDirectory     string
	CheckpointPath     string
	CheckpointInterval time.Duration
}

// Manager is a bounded LRU page cache with disk spillover, plus an in-flight
// slot semaphore used to cap concurrent embedder calls.
type Manager struct {
	cfg          Config
	slots        chan struct{}
	mu           sync.Mutex
	lru          *list.List
	cache        map[string]*list.Element
	spill        map[string]string
	checkpointCh chan string
	wg           sync.WaitGroup
}

// Stats is a snapshot of Manager's internal bookkeeping.
type Stats struct {
	CacheEntries     int
	SpillFiles       int
	InFlight         int
	CheckpointQueued int
}

// NewManager constructs a Manager, creating the spill and checkpoint
// directories if configured.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{cfg: cfg, lru: list.New(), cache: make(map[string]*list.Element), spill: make(map[string]string)}
	if cfg.MaxInFlight > 0 {
		m.slots = make(chan struct{}, cfg.MaxInFlight)
	}
	if cfg.SpillDirectory != "" {
		if err := os.MkdirAll(cfg.SpillDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("create spill directory: %w", err)
		}
	}
	if cfg.CheckpointPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CheckpointPath), 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", err)
		}
		m.checkpointCh = make(chan string, 1024)
		m.wg.Add(1)
		go m.checkpointLoop()
	}
	return m, nil
}

// Close drains the checkpoint writer, if one is running.
func (m *Manager) Close() error {
	if m.checkpointCh != nil {
		close(m.checkpointCh)
		m.wg.Wait()
	}
	return nil
}

// Acquire blocks until an in-flight slot is available or ctx is done. A
// Manager with MaxInFlight <= 0 never blocks.
func (m *Manager) Acquire(ctx context.Context) error {
	if m.slots == nil {
		return nil
	}
	select {
	case m.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns an in-flight slot acquired via Acquire.
func (m *Manager) Release() {
	if m.slots == nil {
		return
	}
	select {
	case <-m.slots:
	default:
	}
}

type cacheEntry struct {
	url  string
	page *engmodels.Page
}

// StorePage inserts or updates key's cached page, evicting the least
// recently used entry to the spill directory if the cache is at capacity.
func (m *Manager) StorePage(key string, page *engmodels.Page) error {
	if key == "" || page == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pc := deepCopyPage(page)
	if el, ok := m.cache[key]; ok {
		el.Value.(*cacheEntry).page = pc
		m.lru.MoveToFront(el)
		return nil
	}
	el := m.lru.PushFront(&cacheEntry{url: key, page: pc})
	m.cache[key] = el
	if m.cfg.CacheCapacity > 0 {
		for len(m.cache) > m.cfg.CacheCapacity {
			m.evictOldest()
		}
	}
	return nil
}

// GetPage returns the cached page for key, transparently rehydrating it from
// the spill directory if it was evicted.
func (m *Manager) GetPage(key string) (*engmodels.Page, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	m.mu.Lock()
	if el, ok := m.cache[key]; ok {
		m.lru.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		pg := deepCopyPage(entry.page)
		m.mu.Unlock()
		return pg, true, nil
	}
	path, spilled := m.spill[key]
	m.mu.Unlock()
	if !spilled {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read spill file: %w", err)
	}
	var pg engmodels.Page
	if err := json.Unmarshal(data, &pg); err != nil {
		return nil, false, fmt.Errorf("decode spill file: %w", err)
	}
	pgPtr := &pg
	if err := m.StorePage(key, pgPtr); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	delete(m.spill, key)
	m.mu.Unlock()
	return pgPtr, true, nil
}

// Checkpoint enqueues url as having made durable progress (e.g. chunks
// written to the store), for crash-recovery bookkeeping.
func (m *Manager) Checkpoint(u string) {
	if m.checkpointCh == nil || u == "" {
		return
	}
	select {
	case m.checkpointCh <- u:
	default:
		return
	}
}

// Stats returns a point-in-time snapshot of cache and slot usage.
func (m *Manager) Stats() Stats {
	var s Stats
	m.mu.Lock()
	s.CacheEntries = len(m.cache)
	s.SpillFiles = len(m.spill)
	m.mu.Unlock()
	if m.slots != nil {
		s.InFlight = len(m.slots)
	}
	if m.checkpointCh != nil {
		s.CheckpointQueued = len(m.checkpointCh)
	}
	return s
}

func (m *Manager) checkpointLoop() {
	defer m.wg.Done()
	interval := m.cfg.CheckpointInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	buf := make([]string, 0, 64)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		f, err := os.OpenFile(m.cfg.CheckpointPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		w := bufio.NewWriter(f)
		for _, e := range buf {
			_, _ = fmt.Fprintln(w, e)
		}
		_ = w.Flush()
		_ = f.Close()
		buf = buf[:0]
	}
	for {
		select {
		case e, ok := <-m.checkpointCh:
			if !ok {
				flush()
				return
			}
			buf = append(buf, e)
			if len(buf) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (m *Manager) evictOldest() {
	back := m.lru.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*cacheEntry)
	delete(m.cache, entry.url)
	m.lru.Remove(back)
	if m.cfg.SpillDirectory == "" {
		return
	}
	filename := fmt.Sprintf("spill-%d-%s.spill.json", time.Now().UnixNano(), hashKey(entry.url))
	path := filepath.Join(m.cfg.SpillDirectory, filename)
	data, err := json.Marshal(entry.page)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return
	}
	m.spill[entry.url] = path
}

func deepCopyPage(p *engmodels.Page) *engmodels.Page {
	if p == nil {
		return nil
	}
	pc := *p
	return &pc
}

func hashKey(k string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k))
	return fmt.Sprintf("%x", h.Sum64())
}
