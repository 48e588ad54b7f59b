//go:build wasm

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall/js"
)

// localStorageBackend implements sensorcache.StorageBackend on window.localStorage.
// localStorage only holds strings, so values are stored base64 encoded. Keys
// are prefixed so that several caches can share one origin.
type localStorageBackend struct {
	storage js.Value
	prefix  string
	mu      sync.Mutex
}

func newLocalStorageBackend(name string) (*localStorageBackend, error) {
	storage, err := lookupLocalStorage()
	if err != nil {
		return nil, err
	}
	return &localStorageBackend{storage: storage, prefix: "sensorcache:" + name + ":"}, nil
}

// lookupLocalStorage returns window.localStorage. The getter throws a
// SecurityError when storage is disabled for the origin; it is read through
// Reflect.get so that the exception surfaces as a recoverable js.Error.
func lookupLocalStorage() (storage js.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("localStorage is not accessible: %v", r)
		}
	}()
	storage = js.Global().Get("Reflect").Call("get", js.Global(), "localStorage")
	if storage.IsUndefined() || storage.IsNull() {
		return js.Undefined(), errors.New("localStorage is not available")
	}
	return storage, nil
}

func (l *localStorageBackend) Read(ctx context.Context, key string) ([]byte, error) {
	l.mu.Lock()
	v := l.storage.Call("getItem", l.prefix+key)
	l.mu.Unlock()

	if v.IsNull() {
		return nil, os.ErrNotExist
	}
	return base64.StdEncoding.DecodeString(v.String())
}

func (l *localStorageBackend) Write(ctx context.Context, key string, data []byte) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// setItem throws when the quota is exceeded
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("localStorage write failed: quota exceeded")
		}
	}()
	l.storage.Call("setItem", l.prefix+key, base64.StdEncoding.EncodeToString(data))
	return nil
}

func (l *localStorageBackend) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.storage.Call("removeItem", l.prefix+key)
	return nil
}

func (l *localStorageBackend) List(ctx context.Context, prefix string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	full := l.prefix + prefix
	var keys []string
	n := l.storage.Get("length").Int()
	for i := 0; i < n; i++ {
		k := l.storage.Call("key", i)
		if k.IsNull() {
			continue
		}
		if s := k.String(); strings.HasPrefix(s, full) {
			keys = append(keys, strings.TrimPrefix(s, l.prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *localStorageBackend) Exists(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return !l.storage.Call("getItem", l.prefix+key).IsNull(), nil
}

func (l *localStorageBackend) Close() error {
	return nil
}
