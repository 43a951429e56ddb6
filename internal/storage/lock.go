package storage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// fileLock holds an exclusive lock on path for other processes sharing the
// storage root. lock and unlock are platform specific.
type fileLock struct {
	path string
	file *os.File
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockSet hands out one mutex per key inside the process and pairs it with a
// flock on <dir>/<key>.lock for other processes sharing the root. A key's
// mutex lives only while someone holds or waits for it.
type lockSet struct {
	dir string

	mu    sync.Mutex
	locks map[string]*keyLock
}

func newLockSet(dir string) *lockSet {
	return &lockSet{dir: dir, locks: make(map[string]*keyLock)}
}

// acquire blocks until key is held and returns the release func.
func (ls *lockSet) acquire(key string) (func(), error) {
	ls.mu.Lock()
	kl, ok := ls.locks[key]
	if !ok {
		kl = &keyLock{}
		ls.locks[key] = kl
	}
	kl.refs++
	ls.mu.Unlock()

	kl.mu.Lock()

	if err := os.MkdirAll(ls.dir, 0755); err != nil {
		ls.put(key, kl)
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := &fileLock{path: filepath.Join(ls.dir, url.PathEscape(key)+".lock")}
	if err := fl.lock(); err != nil {
		ls.put(key, kl)
		return nil, err
	}

	return func() {
		_ = fl.unlock()
		ls.put(key, kl)
	}, nil
}

// put unlocks kl and drops it from the set once nobody else references it.
func (ls *lockSet) put(key string, kl *keyLock) {
	ls.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(ls.locks, key)
	}
	ls.mu.Unlock()
	kl.mu.Unlock()
}
