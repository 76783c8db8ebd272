package instance

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitBlockingReturnsTheBodysError(t *testing.T) {
	bt := NewBackendThread(0)
	defer bt.Close()

	sentinel := errors.New("init failed")
	err := bt.submitBlocking(PayloadInit, func(context.Context) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected submitBlocking to return the body's error, got %v", err)
	}
}

func TestSubmitBlockingRunsPayloadsInOrder(t *testing.T) {
	bt := NewBackendThread(0)
	defer bt.Close()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		if err := bt.submitBlocking(PayloadWarmUp, func(context.Context) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("submitBlocking %d: %v", i, err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected payloads to run in submission order, got %v", order)
		}
	}
}

func TestCloseStopsTheRunLoop(t *testing.T) {
	bt := NewBackendThread(0)
	bt.Close()
	select {
	case <-bt.done:
	default:
		t.Fatal("expected Close to close the done channel")
	}
}
