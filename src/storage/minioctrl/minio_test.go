package minioctrl_test

import (
	"testing"

	"agentrag/src/storage/minioctrl"
)

func TestNewMinioService(t *testing.T) {
	if _, err := minioctrl.NewMinioService("localhost:9000", "minio", "minio123", false); err != nil {
		t.Fatalf("NewMinioService() error = %v", err)
	}
}
