package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"assessment-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// AssessmentLoader fetches assessment definitions from a backing store.
type AssessmentLoader interface {
	LoadAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error)
	LoadAssessments(ctx context.Context) ([]domain.Assessment, error)
}

// AssessmentCache keeps assessment JSON in Redis and falls back to a loader
// on cache miss. Stored as: SET assessment:{id} {json} PX ttl
type AssessmentCache struct {
	client *redis.Client
	loader AssessmentLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewAssessmentCache(client *redis.Client, loader AssessmentLoader, ttl time.Duration) *AssessmentCache {
	return &AssessmentCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AssessmentCache) GetAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error) {
	if a, ok := c.cached(ctx, assessmentID); ok {
		return a, nil
	}

	result, err, _ := c.sf.Do(assessmentID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if a, ok := c.cached(ctx, assessmentID); ok {
			return a, nil
		}
		a, err := c.loader.LoadAssessment(ctx, assessmentID)
		if err != nil {
			return domain.Assessment{}, err
		}
		pipe := c.client.Pipeline()
		c.queueSet(ctx, pipe, a)
		_, _ = pipe.Exec(ctx)
		return a, nil
	})
	if err != nil {
		return domain.Assessment{}, err
	}
	return result.(domain.Assessment), nil
}

// ListAssessments reads through to the loader and refreshes the cache.
func (c *AssessmentCache) ListAssessments(ctx context.Context) ([]domain.Assessment, error) {
	list, err := c.loader.LoadAssessments(ctx)
	if err != nil {
		return nil, err
	}
	pipe := c.client.Pipeline()
	for _, a := range list {
		c.queueSet(ctx, pipe, a)
	}
	_, _ = pipe.Exec(ctx)
	return list, nil
}

func (c *AssessmentCache) cached(ctx context.Context, assessmentID string) (domain.Assessment, bool) {
	raw, err := c.client.Get(ctx, c.key(assessmentID)).Bytes()
	if err != nil {
		return domain.Assessment{}, false
	}
	var a domain.Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Assessment{}, false
	}
	return a, true
}

func (c *AssessmentCache) queueSet(ctx context.Context, pipe redis.Pipeliner, a domain.Assessment) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	pipe.Set(ctx, c.key(a.ID), data, c.ttlWithJitter())
}

// Invalidate drops a cached assessment.
func (c *AssessmentCache) Invalidate(ctx context.Context, assessmentID string) error {
	err := c.client.Del(ctx, c.key(assessmentID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (c *AssessmentCache) key(assessmentID string) string {
	return "assessment:" + assessmentID
}

func (c *AssessmentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
