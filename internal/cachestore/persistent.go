package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/ajspantry/pantry-offline/internal/datastore/entities"
	"github.com/ajspantry/pantry-offline/internal/datastore/repository"
	"github.com/ajspantry/pantry-offline/internal/errors"
)

const (
	encodingIdentity = ""
	encodingZstd     = "zstd"

	// minCompressSize skips compression for bodies too small to benefit.
	minCompressSize = 512
)

// PersistentStorage stores buckets through the gorm cache repository, so the
// cache survives restarts. Bodies are zstd-compressed at rest.
type PersistentStorage struct {
	repo repository.CacheRepository

	encOnce  sync.Once
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	codecErr error
}

// NewPersistentStorage wraps a cache repository.
func NewPersistentStorage(repo repository.CacheRepository) *PersistentStorage {
	return &PersistentStorage{repo: repo}
}

func (s *PersistentStorage) codec() (*zstd.Encoder, *zstd.Decoder, error) {
	s.encOnce.Do(func() {
		s.enc, s.codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if s.codecErr != nil {
			return
		}
		s.dec, s.codecErr = zstd.NewReader(nil)
	})
	return s.enc, s.dec, s.codecErr
}

// Open returns the named bucket, creating its row if needed.
func (s *PersistentStorage) Open(ctx context.Context, name string) (Bucket, error) {
	row, err := s.repo.EnsureBucket(ctx, name)
	if err != nil {
		return nil, storageError(err, "open", name)
	}
	return &persistentBucket{storage: s, id: row.ID, name: row.Name}, nil
}

// Has reports whether a bucket row exists.
func (s *PersistentStorage) Has(ctx context.Context, name string) (bool, error) {
	_, err := s.repo.FindBucket(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrBucketNotFound):
		return false, nil
	default:
		return false, storageError(err, "has", name)
	}
}

// Keys lists bucket names.
func (s *PersistentStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.repo.ListBuckets(ctx)
	if err != nil {
		return nil, storageError(err, "keys", "")
	}
	names := make([]string, 0, len(rows))
	for i := range rows {
		names = append(names, rows[i].Name)
	}
	return names, nil
}

// Delete removes a bucket and its entries.
func (s *PersistentStorage) Delete(ctx context.Context, name string) (bool, error) {
	deleted, err := s.repo.DeleteBucket(ctx, name)
	if err != nil {
		return false, storageError(err, "delete", name)
	}
	return deleted, nil
}

type persistentBucket struct {
	storage *PersistentStorage
	id      uint
	name    string
}

func (b *persistentBucket) Name() string { return b.name }

func (b *persistentBucket) Match(ctx context.Context, key RequestKey) (*Snapshot, error) {
	row, err := b.storage.repo.GetEntry(ctx, b.id, hashKey(key))
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageError(err, "match", b.name)
	}
	return b.storage.decodeEntry(row)
}

func (b *persistentBucket) Put(ctx context.Context, key RequestKey, snap *Snapshot) error {
	if !key.Cacheable() {
		return notCacheable(key)
	}
	row, err := b.storage.encodeEntry(b.id, key, snap)
	if err != nil {
		return storageError(err, "encode", b.name)
	}
	if err := b.storage.repo.UpsertEntry(ctx, row); err != nil {
		return storageError(err, "put", b.name)
	}
	return nil
}

func (b *persistentBucket) Delete(ctx context.Context, key RequestKey) (bool, error) {
	deleted, err := b.storage.repo.DeleteEntry(ctx, b.id, hashKey(key))
	if err != nil {
		return false, storageError(err, "delete_entry", b.name)
	}
	return deleted, nil
}

func (b *persistentBucket) Keys(ctx context.Context) ([]RequestKey, error) {
	rows, err := b.storage.repo.ListEntries(ctx, b.id)
	if err != nil {
		return nil, storageError(err, "list_entries", b.name)
	}
	keys := make([]RequestKey, 0, len(rows))
	for i := range rows {
		keys = append(keys, RequestKey{Method: rows[i].Method, URL: rows[i].URL})
	}
	return keys, nil
}

func (s *PersistentStorage) encodeEntry(bucketID uint, key RequestKey, snap *Snapshot) (*entities.CacheEntry, error) {
	header, err := json.Marshal(snap.Header)
	if err != nil {
		return nil, err
	}
	body := snap.Body
	encoding := encodingIdentity
	if len(body) >= minCompressSize {
		enc, _, err := s.codec()
		if err != nil {
			return nil, err
		}
		body = enc.EncodeAll(snap.Body, make([]byte, 0, len(snap.Body)/2))
		encoding = encodingZstd
	}
	return &entities.CacheEntry{
		BucketID: bucketID,
		KeyHash:  hashKey(key),
		Method:   key.Method,
		URL:      key.URL,
		Status:   snap.Status,
		Header:   string(header),
		Body:     body,
		Encoding: encoding,
		BodySize: snap.Size(),
		StoredAt: snap.StoredAt,
	}, nil
}

func (s *PersistentStorage) decodeEntry(row *entities.CacheEntry) (*Snapshot, error) {
	var header http.Header
	if row.Header != "" {
		if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
			return nil, storageError(err, "decode_header", row.URL)
		}
	}
	body := row.Body
	switch row.Encoding {
	case encodingIdentity:
	case encodingZstd:
		_, dec, err := s.codec()
		if err != nil {
			return nil, storageError(err, "codec", row.URL)
		}
		body, err = dec.DecodeAll(row.Body, make([]byte, 0, row.BodySize))
		if err != nil {
			return nil, storageError(err, "decompress", row.URL)
		}
	default:
		return nil, errors.Newf("unknown body encoding %q", row.Encoding).
			Component("cachestore").
			Category(errors.CategoryStorage).
			Context("url", row.URL).
			Build()
	}
	if body == nil {
		body = []byte{}
	}
	return &Snapshot{
		Status:   row.Status,
		Header:   header,
		Body:     body,
		StoredAt: row.StoredAt,
	}, nil
}

func hashKey(key RequestKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}

func storageError(err error, operation, bucket string) error {
	return errors.New(err).
		Component("cachestore").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Context("bucket", bucket).
		Build()
}
