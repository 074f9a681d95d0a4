package bucketing

import (
	"fmt"
	"hash"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"finnect-auth/internal/config"
)

type BucketingManager struct {
	accountBuckets int
	eventBuckets   int
	hasherPool     sync.Pool
	config         *config.Config
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		accountBuckets: cfg.Bucketing.AccountBuckets,
		eventBuckets:   cfg.Bucketing.EventBuckets,
		config:         cfg,
	}

	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetAccountBucket returns consistent bucket for an account (0 to accountBuckets-1)
func (bm *BucketingManager) GetAccountBucket(accountID interface{}) int {
	var idStr string

	switch v := accountID.(type) {
	case string:
		idStr = v
	case uuid.UUID:
		idStr = v.String()
	case int64:
		idStr = strconv.FormatInt(v, 10)
	case int:
		idStr = strconv.Itoa(v)
	default:
		idStr = toString(v)
	}

	return bm.getBucket(idStr, bm.accountBuckets)
}

// GetEventBucket returns bucket for security events
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetTimeBucket returns time bucket for OTP/rate limiting windows
func (bm *BucketingManager) GetTimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// GetDateBucket returns date bucket for events
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	hash := bm.getHash(key)
	return int(hash % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// GetAccountBuckets returns the number of account buckets
func (bm *BucketingManager) GetAccountBuckets() int {
	return bm.accountBuckets
}

// GetEventBuckets returns the number of event buckets
func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}
