package extract

import (
	"bytes"
	"unsafe"

	"github.com/coocood/freecache"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// CachedFeed is the last 200 response for a feed URL, replayed on 304.
type CachedFeed struct {
	ETag         string
	LastModified string
	Body         []byte
}

// encode lays the entry out as "etag\nlast-modified\nbody". Header
// values cannot contain newlines.
func (f *CachedFeed) encode() []byte {
	var b bytes.Buffer
	b.Grow(len(f.ETag) + len(f.LastModified) + len(f.Body) + 2)
	b.WriteString(f.ETag)
	b.WriteByte('\n')
	b.WriteString(f.LastModified)
	b.WriteByte('\n')
	b.Write(f.Body)
	return b.Bytes()
}

func decodeCachedFeed(data []byte) (*CachedFeed, bool) {
	parts := bytes.SplitN(data, []byte("\n"), 3)
	if len(parts) != 3 {
		return nil, false
	}
	return &CachedFeed{ETag: string(parts[0]), LastModified: string(parts[1]), Body: parts[2]}, true
}

// FeedCache keeps compressed feed bodies with their validators. A nil
// *FeedCache is valid and never hits.
type FeedCache struct {
	cache *freecache.Cache
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	ttl   int
}

// NewFeedCache returns nil when sizeMB is not positive.
func NewFeedCache(sizeMB int, ttlSeconds int) *FeedCache {
	if sizeMB <= 0 {
		log.Info().Msg("feed cache disabled")
		return nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil
	}
	log.Info().Int("size_mb", sizeMB).Int("ttl_s", ttlSeconds).Msg("feed cache initialized")
	return &FeedCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		enc:   enc,
		dec:   dec,
		ttl:   ttlSeconds,
	}
}

// unsafeStringToBytes avoids a copy; freecache copies keys internally.
func unsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func (c *FeedCache) Get(url string) (*CachedFeed, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.cache.Get(unsafeStringToBytes(url))
	if err != nil {
		return nil, false
	}
	plain, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, false
	}
	return decodeCachedFeed(plain)
}

// Set stores feed; entries over freecache's per-entry limit are skipped.
func (c *FeedCache) Set(url string, feed *CachedFeed) {
	if c == nil {
		return
	}
	if err := c.cache.Set(unsafeStringToBytes(url), c.enc.EncodeAll(feed.encode(), nil), c.ttl); err != nil {
		log.Debug().Err(err).Int("bytes", len(feed.Body)).Msg("feed not cached")
	}
}
