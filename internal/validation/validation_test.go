package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/radiusxyz/tx-orderer/internal/types"
)

type fakeClient struct {
	onceCalls  int
	retryCalls int
	failTimes  int
}

func (f *fakeClient) sendOnce(ctx context.Context, method string, params ...interface{}) error {
	f.onceCalls++
	return nil
}

func (f *fakeClient) sendWithRetry(ctx context.Context, method string, params ...interface{}) error {
	f.retryCalls++
	if f.retryCalls <= f.failTimes {
		return errors.New("transient failure")
	}
	return nil
}

func TestPublishDispatchesEigenLayerSingleShot(t *testing.T) {
	p := NewPublisher()
	client := &fakeClient{}
	p.Register("rollup-a", types.ValidationInfo{ServiceProvider: types.ValidationServiceProviderEigenLayer}, client)

	if err := p.Publish(context.Background(), "rollup-a", 201_600, [32]byte{1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if client.onceCalls != 1 {
		t.Fatalf("expected one single-shot call, got %d", client.onceCalls)
	}
	if client.retryCalls != 0 {
		t.Fatalf("EigenLayer should never use the retry path, got %d calls", client.retryCalls)
	}
}

func TestPublishDispatchesSymbioticRetry(t *testing.T) {
	p := NewPublisher()
	client := &fakeClient{}
	p.Register("rollup-b", types.ValidationInfo{ServiceProvider: types.ValidationServiceProviderSymbiotic}, client)

	if err := p.Publish(context.Background(), "rollup-b", 201_600, [32]byte{1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if client.retryCalls != 1 {
		t.Fatalf("expected retry path invoked once, got %d", client.retryCalls)
	}
}

func TestPublishRejectsUnknownProvider(t *testing.T) {
	p := NewPublisher()
	client := &fakeClient{}
	p.Register("rollup-c", types.ValidationInfo{ServiceProvider: types.ValidationServiceProvider("unknown")}, client)

	if err := p.Publish(context.Background(), "rollup-c", 201_600, [32]byte{1}); err == nil {
		t.Fatal("expected error for unsupported validation service provider")
	}
}

func TestPublishRejectsUnregisteredRollup(t *testing.T) {
	p := NewPublisher()
	if err := p.Publish(context.Background(), "rollup-missing", 201_600, [32]byte{1}); err == nil {
		t.Fatal("expected error for unregistered rollup")
	}
}
