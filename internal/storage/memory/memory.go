// Package memory provides process-local implementations of the storage
// interfaces, used for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/sos-pricing/internal/domain/auth"
	"github.com/xenking/sos-pricing/internal/domain/discount"
	"github.com/xenking/sos-pricing/internal/domain/promotion"
)

var (
	_ promotion.Repository            = (*Store)(nil)
	_ promotion.ApplicationRepository = (*Store)(nil)
	_ discount.Repository             = (*Store)(nil)
	_ auth.Repository                 = (*Store)(nil)
)

type redemptionKey struct {
	codeID    string
	reference string
}

// Store keeps every entity in maps guarded by a single mutex, which makes
// Redeem's check-and-increment atomic.
type Store struct {
	mu           sync.Mutex
	rules        map[string]promotion.Rule
	applications []promotion.Application
	codes        map[string]*discount.Code // by normalized code
	redemptions  map[redemptionKey]discount.Redemption
	apiKeys      map[string]auth.APIKeyInfo // by hash
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		rules:       make(map[string]promotion.Rule),
		codes:       make(map[string]*discount.Code),
		redemptions: make(map[redemptionKey]discount.Redemption),
		apiKeys:     make(map[string]auth.APIKeyInfo),
	}
}

// ListActive returns active rules whose window contains now, ordered by
// priority then min quantity, both descending.
func (s *Store) ListActive(_ context.Context, now time.Time) ([]promotion.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]promotion.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if !r.Active {
			continue
		}
		if r.StartsAt != nil && now.Before(*r.StartsAt) {
			continue
		}
		if r.EndsAt != nil && now.After(*r.EndsAt) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].MinQuantity != out[j].MinQuantity {
			return out[i].MinQuantity > out[j].MinQuantity
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// List returns all rules ordered by creation time, newest first.
func (s *Store) List(_ context.Context) ([]promotion.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]promotion.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateRule stores rule, replacing any rule with the same id.
func (s *Store) CreateRule(_ context.Context, rule *promotion.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = *rule
	return nil
}

// RecordApplication appends app to the application log.
func (s *Store) RecordApplication(_ context.Context, app *promotion.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications = append(s.applications, *app)
	return nil
}

// Applications returns a copy of the application log.
func (s *Store) Applications() []promotion.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]promotion.Application(nil), s.applications...)
}

// FindByCode returns a copy of the stored code.
func (s *Store) FindByCode(_ context.Context, code string) (*discount.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[discount.Normalize(code)]
	if !ok {
		return nil, discount.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Redeem implements discount.Repository.
func (s *Store) Redeem(_ context.Context, r *discount.Redemption) (*discount.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := redemptionKey{codeID: r.CodeID, reference: r.Reference}
	if prior, ok := s.redemptions[key]; ok {
		return &prior, nil
	}

	var c *discount.Code
	for _, candidate := range s.codes {
		if candidate.ID == r.CodeID {
			c = candidate
			break
		}
	}
	if c == nil {
		return nil, discount.ErrNotFound
	}
	if c.MaxRedemptions != nil && c.UsageCount >= *c.MaxRedemptions {
		return nil, discount.ErrExhausted
	}

	c.UsageCount++
	s.redemptions[key] = *r
	return nil, nil
}

// CreateCode stores c under its normalized code.
func (s *Store) CreateCode(_ context.Context, c *discount.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := discount.Normalize(c.Code)
	if _, ok := s.codes[key]; ok {
		return discount.ErrDuplicateCode
	}
	cp := *c
	cp.Code = key
	s.codes[key] = &cp
	return nil
}

// ImportCodes stores codes that do not exist yet and returns how many were
// stored.
func (s *Store) ImportCodes(_ context.Context, codes []discount.Code) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, c := range codes {
		key := discount.Normalize(c.Code)
		if _, ok := s.codes[key]; ok {
			continue
		}
		c.Code = key
		s.codes[key] = &c
		inserted++
	}
	return inserted, nil
}

// Redemptions returns the number of recorded redemptions.
func (s *Store) Redemptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redemptions)
}

// PutAPIKey stores an API key by its hash.
func (s *Store) PutAPIKey(info auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[info.KeyHash] = info
}

// FindByHash implements auth.Repository.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &info, nil
}
