package store

import (
	"fmt"
	"io"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving the key for every blob in the store.
func (ms *Memory) List() <-chan string {
	c := make(chan string)
	go func() {
		ms.m.RLock()
		keys := make([]string, 0, len(ms.store))
		for k := range ms.store {
			keys = append(keys, k)
		}
		ms.m.RUnlock()
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// Open returns a ReadAtCloser and the size of the given blob.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("No blob %s", key)
	}
	return membuf(v), int64(len(v)), nil
}

// Create makes a new entry in the store, and returns a writer to save data
// into it. The entry is saved when the writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.RLock()
	_, ok := ms.store[key]
	ms.m.RUnlock()
	if ok {
		return nil, ErrKeyExists
	}
	return &memwriter{parent: ms, key: key}, nil
}

// Delete the given key from the store. It is not an error if the blob does
// not exist in the store.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

type membuf []byte

func (b membuf) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(b) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	return n, nil
}

func (b membuf) Close() error { return nil }

type memwriter struct {
	parent *Memory
	key    string
	b      []byte
}

func (w *memwriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *memwriter) Close() error {
	w.parent.m.Lock()
	w.parent.store[w.key] = w.b
	w.parent.m.Unlock()
	return nil
}
