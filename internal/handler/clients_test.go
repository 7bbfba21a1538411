package handler

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryFileStorePutOverwritesSameKey(t *testing.T) {
	fs := NewInMemoryFileStore()
	path1, err := fs.Put(context.Background(), "k", []byte("first"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	path2, err := fs.Put(context.Background(), "k", []byte("second"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if path1 != path2 {
		t.Errorf("same key produced different paths: %q vs %q", path1, path2)
	}
	if !bytes.Equal(fs.files["k"], []byte("second")) {
		t.Errorf("expected overwritten content, got %q", fs.files["k"])
	}
}

func TestInMemoryFileStorePutIsSafeForConcurrentCallers(t *testing.T) {
	// Mirrors handler.DefaultDependencies() sharing one InMemoryFileStore
	// across handler types the Dispatcher may run concurrently for
	// different tasks (§4.2). Run with -race to catch a regression back to
	// an unguarded map.
	fs := NewInMemoryFileStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			if _, err := fs.Put(context.Background(), key, []byte{byte(i)}); err != nil {
				t.Errorf("put: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func TestNoopSupplierClientReturnsDeterministicValues(t *testing.T) {
	s := NoopSupplierClient{}
	ds1, _ := s.FetchDatasheet(context.Background(), "R1")
	ds2, _ := s.FetchDatasheet(context.Background(), "R1")
	if ds1 != ds2 {
		t.Errorf("expected deterministic datasheet URL, got %q vs %q", ds1, ds2)
	}
}
