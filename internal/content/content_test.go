package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sunshine.org/internal/dao"
)

type fakeObjects struct {
	objects map[string][]byte
	bucket  string
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ref, err := m.Put(ctx, []byte("constitution v1"))
	if err != nil {
		t.Fatal(err)
	}
	if ref != dao.RefFor([]byte("constitution v1")) {
		t.Fatalf("ref is not the content hash")
	}
	body, err := m.Get(ctx, ref)
	if err != nil || string(body) != "constitution v1" {
		t.Fatalf("unexpected body %q (%v)", body, err)
	}
	if _, err := m.Get(ctx, dao.RefFor([]byte("other"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Put(ctx, nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := m.Put(ctx, make([]byte, MaxBodySize+1)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestS3StoreKeysObjectsByRef(t *testing.T) {
	api := &fakeObjects{objects: map[string][]byte{}}
	s := NewS3Store(api, "dao-content", "refs")
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte("bounty: fix the parser"))
	if err != nil {
		t.Fatal(err)
	}
	if api.bucket != "dao-content" {
		t.Fatalf("unexpected bucket %q", api.bucket)
	}
	if _, ok := api.objects["refs/"+ref.String()]; !ok {
		t.Fatalf("object not stored under its ref: %v", api.objects)
	}
	body, err := s.Get(ctx, ref)
	if err != nil || string(body) != "bounty: fix the parser" {
		t.Fatalf("unexpected body %q (%v)", body, err)
	}
	if _, err := s.Get(ctx, dao.RefFor([]byte("missing"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	api.objects["refs/"+ref.String()] = []byte("tampered")
	if _, err := s.Get(ctx, ref); err == nil {
		t.Fatalf("expected a mismatch error for a tampered object")
	}
}
