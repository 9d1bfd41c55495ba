// Package storagetest provides an in-memory object storage backend for tests.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrObjectNotFound is returned by Get for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// Object is a stored blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory is an in-memory storage.ObjectStorage.
type Memory struct {
	mu      sync.Mutex
	objects map[string]Object

	// PutErr, when set, makes every Put fail.
	PutErr error
}

func New() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) EnsureBucket(context.Context) error {
	return nil
}

func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: data, ContentType: contentType}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) URL(key string) string {
	return "https://photos.test/" + key
}

func (m *Memory) Bucket() string {
	return "test"
}

func (m *Memory) Close() error {
	return nil
}

// Object returns a stored object.
func (m *Memory) Object(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
