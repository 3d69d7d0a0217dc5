package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentSnapshotVersion = 1

// snapshot is the root structure persisted by a file-backed MemoryStore.
type snapshot struct {
	Version int               `json:"version"`
	SavedAt int64             `json:"saved_at"`
	NextID  int64             `json:"next_id"`
	Sites   []Site            `json:"sites"`
	Owners  map[int64][]int64 `json:"owners"`
}

// MemoryStore keeps sites in memory. When created with OpenFile every
// mutation is also written to a JSON snapshot on disk.
type MemoryStore struct {
	mu     sync.RWMutex
	sites  map[int64]*Site
	byURL  map[string]int64
	owners map[int64]map[int64]struct{}
	nextID int64
	path   string
}

// NewMemoryStore creates an empty, non-persistent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:  make(map[int64]*Site),
		byURL:  make(map[string]int64),
		owners: make(map[int64]map[int64]struct{}),
		nextID: 1,
	}
}

// OpenFile creates a store backed by the snapshot at path. A missing file
// starts an empty store.
func OpenFile(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("site snapshot not found, starting fresh", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot JSON: %w", err)
	}
	for i := range snap.Sites {
		site := snap.Sites[i]
		s.sites[site.ID] = &site
		s.byURL[site.URL] = site.ID
		if site.ID >= s.nextID {
			s.nextID = site.ID + 1
		}
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	for id, chats := range snap.Owners {
		if _, ok := s.sites[id]; !ok {
			continue
		}
		set := make(map[int64]struct{}, len(chats))
		for _, c := range chats {
			set[c] = struct{}{}
		}
		s.owners[id] = set
	}
	return s, nil
}

func (s *MemoryStore) ListSitesPage(ctx context.Context, skip, limit int) ([]Site, error) {
	if err := CheckPage(skip, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sortedIDs()
	if skip >= len(ids) {
		return []Site{}, nil
	}
	end := skip + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := make([]Site, 0, end-skip)
	for _, id := range ids[skip:end] {
		page = append(page, *s.sites[id])
	}
	return page, nil
}

func (s *MemoryStore) WriteBack(ctx context.Context, sites []Site) error {
	if len(sites) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range sites {
		site, ok := s.sites[in.ID]
		if !ok {
			continue
		}
		site.Status = in.Status
		site.LastChecked = in.LastChecked
	}
	return s.persist()
}

func (s *MemoryStore) OwnersOf(ctx context.Context, siteID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.owners[siteID]
	out := make([]int64, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) TrackSite(ctx context.Context, url string, owner int64) (Site, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, existed := s.byURL[url]
	if !existed {
		id = s.nextID
		s.nextID++
		s.sites[id] = &Site{ID: id, URL: url, Status: DefaultStatus, LastChecked: time.Now().UTC()}
		s.byURL[url] = id
	}
	set, ok := s.owners[id]
	if !ok {
		set = make(map[int64]struct{})
		s.owners[id] = set
	}
	_, linked := set[owner]
	set[owner] = struct{}{}

	if err := s.persist(); err != nil {
		// Undo so memory matches the snapshot on disk.
		if !linked {
			delete(set, owner)
		}
		if len(set) == 0 {
			delete(s.owners, id)
		}
		if !existed {
			delete(s.sites, id)
			delete(s.byURL, url)
			s.nextID--
		}
		return Site{}, false, err
	}
	return *s.sites[id], !linked, nil
}

func (s *MemoryStore) UntrackSite(ctx context.Context, host string, owner int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, url := range SchemeVariants(host) {
		id, ok := s.byURL[url]
		if !ok {
			continue
		}
		if s.unlink(id, owner) {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persist()
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner int64) ([]Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Site
	for id, set := range s.owners {
		if _, ok := set[owner]; ok {
			out = append(out, *s.sites[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (s *MemoryStore) ClearOwner(ctx context.Context, owner int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range s.sortedIDs() {
		if s.unlink(id, owner) {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persist()
}

// Close flushes the snapshot of a file-backed store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// unlink removes owner from site id and deletes the site once no owner is
// left. Callers must hold the write lock.
func (s *MemoryStore) unlink(id, owner int64) bool {
	set := s.owners[id]
	if _, ok := set[owner]; !ok {
		return false
	}
	delete(set, owner)
	if len(set) == 0 {
		delete(s.owners, id)
		if site, ok := s.sites[id]; ok {
			delete(s.byURL, site.URL)
			delete(s.sites, id)
		}
	}
	return true
}

func (s *MemoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.sites))
	for id := range s.sites {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// persist writes the snapshot if the store is file-backed. Callers must
// hold the write lock.
func (s *MemoryStore) persist() error {
	if s.path == "" {
		return nil
	}
	snap := snapshot{
		Version: currentSnapshotVersion,
		SavedAt: time.Now().Unix(),
		NextID:  s.nextID,
		Sites:   make([]Site, 0, len(s.sites)),
		Owners:  make(map[int64][]int64, len(s.owners)),
	}
	for _, id := range s.sortedIDs() {
		snap.Sites = append(snap.Sites, *s.sites[id])
	}
	for id, set := range s.owners {
		chats := make([]int64, 0, len(set))
		for c := range set {
			chats = append(chats, c)
		}
		sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
		snap.Owners[id] = chats
	}
	if err := atomicWriteJSON(s.path, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// atomicWriteJSON writes data as JSON to a file atomically.
func atomicWriteJSON(filePath string, data interface{}) error {
	bs, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(bs); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	tmp = nil

	return os.Rename(tmpName, filePath)
}
