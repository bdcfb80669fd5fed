package shutdown

import (
	"context"
	"errors"
	"testing"
)

func TestShutdownReverseOrderOnce(t *testing.T) {
	m := NewManager()
	var order []string
	m.OnShutdown("store", func(ctx context.Context) error {
		order = append(order, "store")
		return nil
	})
	m.OnShutdown("monitor", func(ctx context.Context) error {
		order = append(order, "monitor")
		return errors.New("ignored")
	})
	m.OnShutdown("http", func(ctx context.Context) error {
		order = append(order, "http")
		return nil
	})
	m.OnShutdown("nil", nil)

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())

	want := []string{"http", "monitor", "store"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestShutdownEmpty(t *testing.T) {
	NewManager().Shutdown(context.Background())
}
