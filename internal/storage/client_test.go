package storage

import "testing"

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b"})
	if err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestWithBucketKeepsConnection(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b", Bucket: "artifacts"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	other := c.WithBucket("sources")
	if other.Bucket() != "sources" {
		t.Fatalf("expected sources bucket, got %s", other.Bucket())
	}
	if c.Bucket() != "artifacts" {
		t.Fatalf("original client bucket changed to %s", c.Bucket())
	}
	if other.minio != c.minio {
		t.Fatal("expected the underlying minio client to be shared")
	}
}
