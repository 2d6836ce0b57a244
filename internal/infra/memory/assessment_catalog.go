package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"assessment-attempt-service/internal/domain"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// AssessmentLoader fetches assessment definitions from a backing store.
type AssessmentLoader interface {
	LoadAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error)
	LoadAssessments(ctx context.Context) ([]domain.Assessment, error)
}

// AssessmentCatalog caches assessments with TTL to avoid repeated DB hits.
// Listings always go to the loader and refresh the per-id cache.
type AssessmentCatalog struct {
	loader AssessmentLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedAssessment
}

type cachedAssessment struct {
	assessment domain.Assessment
	expiresAt  time.Time
}

func NewAssessmentCatalog(loader AssessmentLoader, ttl time.Duration) *AssessmentCatalog {
	return &AssessmentCatalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedAssessment),
	}
}

func (c *AssessmentCatalog) GetAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error) {
	if a, ok := c.cached(assessmentID); ok {
		return a, nil
	}

	result, err, _ := c.sf.Do(assessmentID, func() (interface{}, error) {
		if a, ok := c.cached(assessmentID); ok {
			return a, nil
		}
		a, err := c.loader.LoadAssessment(ctx, assessmentID)
		if err != nil {
			return domain.Assessment{}, err
		}
		c.store(a)
		return a, nil
	})
	if err != nil {
		return domain.Assessment{}, err
	}
	return result.(domain.Assessment), nil
}

func (c *AssessmentCatalog) ListAssessments(ctx context.Context) ([]domain.Assessment, error) {
	list, err := c.loader.LoadAssessments(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		c.store(a)
	}
	return list, nil
}

func (c *AssessmentCatalog) cached(assessmentID string) (domain.Assessment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[assessmentID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Assessment{}, false
	}
	return entry.assessment, true
}

func (c *AssessmentCatalog) store(a domain.Assessment) {
	expiresAt := c.clock().Add(c.ttlWithJitter())
	c.mu.Lock()
	c.cache[a.ID] = cachedAssessment{assessment: a, expiresAt: expiresAt}
	c.mu.Unlock()
}

func (c *AssessmentCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticAssessmentLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticAssessmentLoader struct {
	assessments map[string]domain.Assessment
}

func NewStaticAssessmentLoader(assessments ...domain.Assessment) *StaticAssessmentLoader {
	m := make(map[string]domain.Assessment, len(assessments))
	for _, a := range assessments {
		m[a.ID] = a
	}
	return &StaticAssessmentLoader{assessments: m}
}

// LoadSeedFile reads a YAML list of assessments. Keys follow the JSON
// field names of domain.Assessment.
func LoadSeedFile(path string) (*StaticAssessmentLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode seed file: %w", err)
	}
	var assessments []domain.Assessment
	if err := json.Unmarshal(encoded, &assessments); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return NewStaticAssessmentLoader(assessments...), nil
}

func (l *StaticAssessmentLoader) LoadAssessment(_ context.Context, assessmentID string) (domain.Assessment, error) {
	if a, ok := l.assessments[assessmentID]; ok {
		return a, nil
	}
	return domain.Assessment{}, domain.ErrAssessmentNotFound
}

func (l *StaticAssessmentLoader) LoadAssessments(_ context.Context) ([]domain.Assessment, error) {
	out := make([]domain.Assessment, 0, len(l.assessments))
	for _, a := range l.assessments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
