// Package memory provides an in-memory metadata store implementation.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reinferio/saltfish/internal/storage"
)

// Store implements storage.MetadataStore with in-memory maps.
type Store struct {
	mu sync.RWMutex

	// datasets by raw id bytes
	datasets map[string]*storage.Dataset

	// users maps user id to username; CreateDataset enforces the
	// foreign-key check against it.
	users  map[int64]string
	emails map[int64]string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		datasets: make(map[string]*storage.Dataset),
		users:    make(map[int64]string),
		emails:   make(map[int64]string),
	}
}

// AddUser registers a user so foreign-key checks pass. Test helper; the
// production store relies on the external users relation.
func (s *Store) AddUser(id int64, username, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = username
	s.emails[id] = email
}

func (s *Store) FetchSchema(ctx context.Context, datasetID []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datasets[string(datasetID)]
	if !ok {
		return nil, storage.ErrInvalidDatasetID
	}
	return append([]byte(nil), d.SchemaBlob...), nil
}

func (s *Store) CreateDataset(ctx context.Context, d *storage.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[d.UserID]; !ok {
		return storage.ErrInvalidUserID
	}
	for _, existing := range s.datasets {
		if existing.UserID == d.UserID && existing.Name == d.Name {
			return storage.ErrDuplicateDatasetName
		}
	}

	stored := *d
	stored.ID = append([]byte(nil), d.ID...)
	stored.SchemaBlob = append([]byte(nil), d.SchemaBlob...)
	stored.Created = time.Now()
	s.datasets[string(d.ID)] = &stored
	return nil
}

func (s *Store) DeleteDataset(ctx context.Context, datasetID []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[string(datasetID)]; !ok {
		return 0, nil
	}
	delete(s.datasets, string(datasetID))
	return 1, nil
}

func (s *Store) GetDatasetByID(ctx context.Context, datasetID []byte) (*storage.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datasets[string(datasetID)]
	if !ok {
		return nil, storage.ErrInvalidDatasetID
	}
	out := *d
	out.Username = s.users[d.UserID]
	out.Email = s.emails[d.UserID]
	return &out, nil
}

func (s *Store) GetDatasetsByUser(ctx context.Context, userID int64) ([]*storage.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Dataset
	for _, d := range s.datasets {
		if d.UserID != userID {
			continue
		}
		copied := *d
		copied.Username = s.users[d.UserID]
		copied.Email = s.emails[d.UserID]
		out = append(out, &copied)
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) GetDatasetsByUsername(ctx context.Context, username string) ([]*storage.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var userID int64
	found := false
	for id, name := range s.users {
		if name == username {
			userID, found = id, true
			break
		}
	}
	if !found {
		return nil, storage.ErrInvalidUsername
	}

	var out []*storage.Dataset
	for _, d := range s.datasets {
		if d.UserID != userID {
			continue
		}
		copied := *d
		copied.Username = username
		copied.Email = s.emails[userID]
		out = append(out, &copied)
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) IsHealthy(ctx context.Context) bool { return true }

func sortByCreated(datasets []*storage.Dataset) {
	sort.Slice(datasets, func(i, j int) bool {
		if datasets[i].Created.Equal(datasets[j].Created) {
			return bytes.Compare(datasets[i].ID, datasets[j].ID) < 0
		}
		return datasets[i].Created.Before(datasets[j].Created)
	})
}
