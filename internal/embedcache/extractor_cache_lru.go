package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/extractor"
)

// WrapLruCacheToExtractor memoizes embeddings by audio content so that
// re-harvesting an episode or comparing backends does not recompute
// identical sub-segments.
func WrapLruCacheToExtractor(e extractor.Extractor, size int, ttl time.Duration) extractor.Extractor {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruExtractor{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruExtractor struct {
	next  extractor.Extractor
	cache *expirable.LRU[string, []float32]
}

func (l *lruExtractor) Identity() extractor.Identity {
	return l.next.Identity()
}

func (l *lruExtractor) Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	cacheKey := buildCacheKey(l.next.Identity(), samples, sampleRate)
	if cached, ok := l.cache.Get(cacheKey); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)",
			zap.String("backend", l.next.Identity().Backend))
		return cloneEmbedding(cached), nil
	}
	res, err := l.next.Extract(ctx, samples, sampleRate)
	if err != nil {
		return nil, err
	}
	l.cache.Add(cacheKey, cloneEmbedding(res))
	return res, nil
}

func (l *lruExtractor) Close() {
	l.next.Close()
}

func buildCacheKey(id extractor.Identity, samples []float32, sampleRate int) string {
	h := sha256.New()
	h.Write([]byte(id.Backend))
	h.Write([]byte{0})
	h.Write([]byte(id.ModelID))
	h.Write([]byte{0})
	h.Write([]byte(id.VersionTag))
	h.Write([]byte{0})
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(sampleRate))
	h.Write(buf[:])
	for _, s := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(s))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
