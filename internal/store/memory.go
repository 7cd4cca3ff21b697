package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memEntry struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store. Failures can be injected per operation and
// key, which the job tests use to exercise partial-failure paths.
type Memory struct {
	mu       sync.RWMutex
	objects  map[string]memEntry
	failures map[string]error // "op key" -> error
}

func NewMemory() *Memory {
	return &Memory{
		objects:  make(map[string]memEntry),
		failures: make(map[string]error),
	}
}

// Fail makes op ("get", "put", "list" or "delete") on key return err. A nil
// err clears the failure. For "list" the key is the prefix.
func (m *Memory) Fail(op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op+" "+key)
		return
	}
	m.failures[op+" "+key] = err
}

func (m *Memory) failure(op, key string) error {
	return m.failures[op+" "+key]
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("get", key); err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	e, ok := m.objects[key]
	if !ok {
		return nil, &StorageError{Op: "get", Key: key, Err: ErrNotFound}
	}
	return append([]byte(nil), e.data...), nil
}

func (m *Memory) ContentType(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.objects[key]
	if !ok {
		return "", &StorageError{Op: "stat", Key: key, Err: ErrNotFound}
	}
	return e.contentType, nil
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("put", key); err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	m.objects[key] = memEntry{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("list", prefix); err != nil {
		return nil, &StorageError{Op: "list", Key: prefix, Err: err}
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) DeleteBatch(ctx context.Context, keys []string) (DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res DeleteResult
	for _, k := range keys {
		if err := m.failure("delete", k); err != nil {
			res.Errors = append(res.Errors, DeleteError{Key: k, Err: err})
			continue
		}
		delete(m.objects, k)
		res.Deleted = append(res.Deleted, k)
	}
	return res, nil
}
