package stores

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/MrEthical07/tripauth/internal/fsutil"
)

// FilePrincipalStore keeps all principals of one class in a JSON array file.
type FilePrincipalStore struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFilePrincipalStore returns a store over the JSON file at path. The file
// is created on first write.
func NewFilePrincipalStore(path string, now func() time.Time) *FilePrincipalStore {
	if now == nil {
		now = time.Now
	}
	return &FilePrincipalStore{path: path, now: now}
}

// FindByEmail implements PrincipalStore.
func (s *FilePrincipalStore) FindByEmail(ctx context.Context, email string) (Principal, error) {
	email = NormalizeEmail(email)
	return s.find(ctx, func(p *Principal) bool { return p.Email == email })
}

// FindByID implements PrincipalStore.
func (s *FilePrincipalStore) FindByID(ctx context.Context, id string) (Principal, error) {
	return s.find(ctx, func(p *Principal) bool { return p.ID == id })
}

func (s *FilePrincipalStore) find(ctx context.Context, match func(*Principal) bool) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Principal{}, err
	}
	for i := range all {
		if match(&all[i]) {
			return all[i], nil
		}
	}
	return Principal{}, ErrNotFound
}

// Create implements PrincipalStore.
func (s *FilePrincipalStore) Create(ctx context.Context, p Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}

	p.Email = NormalizeEmail(p.Email)
	for i := range all {
		if all[i].Email == p.Email {
			return ErrDuplicateEmail
		}
		if all[i].ID == p.ID {
			return oops.Code("STORE_DUPLICATE_ID").With("path", s.path).Errorf("duplicate principal id")
		}
	}

	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return s.save(append(all, p))
}

// Update implements PrincipalStore.
func (s *FilePrincipalStore) Update(ctx context.Context, id string, u PrincipalUpdate) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Principal{}, err
	}
	for i := range all {
		if all[i].ID != id {
			continue
		}
		u.Apply(&all[i], s.now().UTC())
		if err := s.save(all); err != nil {
			return Principal{}, err
		}
		return all[i], nil
	}
	return Principal{}, ErrNotFound
}

// List returns every stored principal.
func (s *FilePrincipalStore) List(ctx context.Context) ([]Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FilePrincipalStore) load() ([]Principal, error) {
	var all []Principal
	if err := readJSON(s.path, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *FilePrincipalStore) save(all []Principal) error {
	return writeJSON(s.path, all)
}

// readJSON decodes path into v. A missing or empty file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("STORE_READ_FAILED").With("path", path).Wrap(err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return oops.Code("STORE_CORRUPT").
			With("path", path).
			With("cause", err.Error()).
			Wrap(ErrCorrupt)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return oops.Code("STORE_ENCODE_FAILED").With("path", path).Wrap(err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
