// Package memory provides an in-memory implementation of object.Store.
// All data is lost on restart. Use this for testing only.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pictorhq/pictor/pkg/store/object"
)

// stored holds a single object and its metadata.
type stored struct {
	data         []byte
	contentType  string
	crc32        *string
	lastModified time.Time
}

// ObjectStore is a thread-safe in-memory object.Store.
//
// Test hooks: FailGets forces Get to fail with a transport error (used to
// exercise worker retries), and TamperCRC32 overrides the checksum echoed by
// GetChecksums (used to exercise the finalize rollback path).
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]*stored

	// FailGets, while > 0, makes Get fail and decrements per call.
	FailGets int

	// TamperCRC32, when non-empty, is returned by GetChecksums instead of
	// the stored value.
	TamperCRC32 string

	// DropCRC32 makes GetChecksums report no stored checksum.
	DropCRC32 bool
}

var _ object.Store = (*ObjectStore)(nil)

// New creates an empty in-memory object store.
func New() *ObjectStore {
	return &ObjectStore{objects: make(map[string]*stored)}
}

func (s *ObjectStore) Put(ctx context.Context, key string, body io.Reader, opts object.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return object.NewError(object.KindTransport, key, err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return object.NewError(object.KindTransport, key, err)
	}

	obj := &stored{
		data:         data,
		contentType:  opts.ContentType,
		lastModified: time.Now(),
	}
	if opts.CRC32Base64 != "" {
		crc := opts.CRC32Base64
		obj.crc32 = &crc
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()
	return nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, object.Info, error) {
	s.mu.Lock()
	if s.FailGets > 0 {
		s.FailGets--
		s.mu.Unlock()
		return nil, object.Info{}, object.NewError(object.KindTransport, key, fmt.Errorf("S3 download failed"))
	}
	obj, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		return nil, object.Info{}, object.NewError(object.KindNotFound, key, fmt.Errorf("no such key"))
	}

	info := object.Info{
		Key:           key,
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.data)),
		LastModified:  obj.lastModified,
	}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

func (s *ObjectStore) GetChecksums(ctx context.Context, key string) (object.Checksums, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	tamper := s.TamperCRC32
	drop := s.DropCRC32
	s.mu.RUnlock()

	if !ok {
		return object.Checksums{}, object.NewError(object.KindNotFound, key, fmt.Errorf("no such key"))
	}
	if drop {
		return object.Checksums{}, nil
	}
	if tamper != "" {
		return object.Checksums{CRC32Base64: &tamper}, nil
	}
	return object.Checksums{CRC32Base64: obj.crc32}, nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *ObjectStore) ListPrefix(ctx context.Context, prefix string) ([]object.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []object.Info
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, object.Info{
				Key:           key,
				ContentType:   obj.contentType,
				ContentLength: int64(len(obj.data)),
				LastModified:  obj.lastModified,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Exists reports whether a key is present. Test helper.
func (s *ObjectStore) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Bytes returns a copy of the stored object data. Test helper.
func (s *ObjectStore) Bytes(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, true
}
