package source

import (
	"context"
	"errors"
	"testing"

	"gocloud.dev/blob/memblob"
)

func TestDocumentStore_PutReadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Put(ctx, "documents/u1/a.pdf", []byte("%PDF-1.7"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Read(ctx, "documents/u1/a.pdf")
	if err != nil || string(got) != "%PDF-1.7" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if err := s.Delete(ctx, "documents/u1/a.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read(ctx, "documents/u1/a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read after delete err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "documents/u1/a.pdf"); err != nil {
		t.Fatalf("deleting a missing key should succeed, got %v", err)
	}
}

func TestOpenDocumentStore_URLSchemes(t *testing.T) {
	ctx := context.Background()
	s, err := OpenDocumentStore(ctx, "mem://")
	if err != nil {
		t.Fatalf("mem://: %v", err)
	}
	_ = s.Close()

	dir := t.TempDir()
	s, err = OpenDocumentStore(ctx, "file://"+dir)
	if err != nil {
		t.Fatalf("file://: %v", err)
	}
	defer s.Close()
	if err := s.Put(ctx, "k", []byte("v"), "text/plain"); err != nil {
		t.Fatalf("Put on file bucket: %v", err)
	}

	if _, err := OpenDocumentStore(ctx, "nosuch://bucket"); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}
