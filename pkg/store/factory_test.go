package store

import (
	"context"
	"testing"
)

func TestFactoryMemoryDriver(t *testing.T) {
	stores, queue, err := New(context.Background(), DriverMemory)
	if err != nil {
		t.Fatalf("new memory stores: %v", err)
	}
	if stores.Projects == nil || stores.Sessions == nil || stores.Transcripts == nil ||
		stores.Notes == nil || stores.Workspace == nil {
		t.Fatalf("incomplete store bundle: %+v", stores)
	}
	if _, ok := queue.(*MemoryQueue); !ok {
		t.Fatalf("queue = %T, want *MemoryQueue", queue)
	}
}

func TestFactoryPostgresRequiresPool(t *testing.T) {
	_, _, err := New(context.Background(), DriverPostgres)
	if err != ErrInvalidConfig {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestFactoryRejectsUnknownDriver(t *testing.T) {
	_, _, err := New(context.Background(), Driver("cassette-tape"))
	if err != ErrInvalidDriver {
		t.Fatalf("got %v, want ErrInvalidDriver", err)
	}
}
