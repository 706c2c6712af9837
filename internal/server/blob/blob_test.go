package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dkaspars/attachsync/internal/common"
)

func TestKeys(t *testing.T) {
	if got, want := AttachmentKey("wi-1", "a-1"), "attachments/wi-1/a-1"; got != want {
		t.Fatalf("AttachmentKey = %q, want %q", got, want)
	}
	if got, want := ChunkKey("s-1", 0, 39999), "sessions/s-1/0-39999"; got != want {
		t.Fatalf("ChunkKey = %q, want %q", got, want)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "k", []byte("payload")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Fatalf("Get = %q", got)
	}

	// Stored bytes are isolated from caller mutations.
	got[0] = 'X'
	again, _ := s.Get(ctx, "k")
	if !bytes.Equal(again, []byte("payload")) {
		t.Fatal("stored bytes aliased to returned slice")
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

type stubS3 struct {
	objects map[string][]byte
}

func (s *stubS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	s.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (s *stubS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := s.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (s *stubS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(s.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &S3Store{client: &stubS3{objects: map[string][]byte{}}, bucket: "attachments"}

	if err := store.Put(ctx, "attachments/wi-1/a-1", []byte("content")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, err := store.Get(ctx, "attachments/wi-1/a-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !bytes.Equal(got, []byte("content")) {
		t.Fatalf("Get = %q", got)
	}

	if err := store.Delete(ctx, "attachments/wi-1/a-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, "attachments/wi-1/a-1"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("missing key error = %v, want ErrNotFound", err)
	}
}
