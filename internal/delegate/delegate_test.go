package delegate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchid/internal/engine/ports"
	"orchid/internal/events"
)

// trackedResource counts Close calls so tests can assert exactly-once
// release on every exit path.
type trackedResource struct {
	name   string
	closes atomic.Int32
	fail   bool
}

func (r *trackedResource) Name() string { return r.name }

func (r *trackedResource) Close() error {
	r.closes.Add(1)
	if r.fail {
		return fmt.Errorf("device busy")
	}
	return nil
}

func parentSnapshot(peers ...string) *ports.Snapshot {
	peerMap := make(map[string]ports.AgentProfile, len(peers))
	var descriptors []ports.CapabilityDescriptor
	for _, id := range peers {
		peerMap[id] = ports.AgentProfile{ID: id, OrgID: "acme"}
		descriptors = append(descriptors, ports.CapabilityDescriptor{Kind: ports.KindSubAgent, ID: id})
	}
	return ports.NewSnapshot(ports.AgentProfile{ID: "parent", OrgID: "acme"}, descriptors, nil, nil, peerMap)
}

func request(depth int) ports.DelegationRequest {
	return ports.DelegationRequest{
		RunID:         "run-1",
		StepID:        "s1",
		TargetAgentID: "analyst",
		Task:          "check the ledger",
		Depth:         depth,
		OrgID:         "acme",
	}
}

func withTracked(d *Delegator) *trackedResource {
	resource := &trackedResource{name: "workspace"}
	d.SetResourceOpener(func(string) ([]Resource, error) {
		return []Resource{resource}, nil
	})
	return resource
}

func TestDelegateRunsNestedRunAndCleansUp(t *testing.T) {
	d := New(2, time.Second, nil)
	resource := withTracked(d)

	var seen ports.StartRequest
	d.Bind(func(ctx context.Context, req ports.StartRequest, _ events.Listener) (*ports.RunResult, error) {
		seen = req
		return &ports.RunResult{Answer: "ledger is balanced", Reflection: "books were tidy"}, nil
	})

	result := d.Delegate(context.Background(), request(0), parentSnapshot("analyst"), nil)

	assert.True(t, result.Success)
	assert.Equal(t, "ledger is balanced", result.Answer)
	assert.Equal(t, "books were tidy", result.Reflection)
	assert.True(t, result.ResourcesCleaned)
	assert.Equal(t, int32(1), resource.closes.Load(), "resource released exactly once")

	assert.Equal(t, "analyst", seen.AgentID)
	assert.Equal(t, "check the ledger", seen.Message)
	assert.Equal(t, 1, seen.Depth, "nested run executes one level below the parent")
}

func TestDepthLimitRefusedBeforeResourcesOpen(t *testing.T) {
	d := New(2, time.Second, nil)
	opened := false
	d.SetResourceOpener(func(string) ([]Resource, error) {
		opened = true
		return nil, nil
	})
	d.Bind(func(context.Context, ports.StartRequest, events.Listener) (*ports.RunResult, error) {
		t.Fatal("nested run must not start")
		return nil, nil
	})

	result := d.Delegate(context.Background(), request(2), parentSnapshot("analyst"), nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "depth")
	assert.True(t, result.ResourcesCleaned, "nothing opened means nothing to clean")
	assert.False(t, opened, "preconditions run before resource provisioning")
}

func TestUnknownPeerRefused(t *testing.T) {
	d := New(2, time.Second, nil)
	d.Bind(func(context.Context, ports.StartRequest, events.Listener) (*ports.RunResult, error) {
		t.Fatal("nested run must not start")
		return nil, nil
	})

	result := d.Delegate(context.Background(), request(0), parentSnapshot("other"), nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown delegation target")
}

func TestTimeoutReleasesResourcesAndReportsTypedError(t *testing.T) {
	d := New(2, 40*time.Millisecond, nil)
	resource := withTracked(d)

	d.Bind(func(ctx context.Context, _ ports.StartRequest, _ events.Listener) (*ports.RunResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	result := d.Delegate(context.Background(), request(0), parentSnapshot("analyst"), nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "delegation timed out")
	assert.True(t, result.ResourcesCleaned)
	assert.Equal(t, int32(1), resource.closes.Load())
}

func TestParentDeadlineNotBlamedOnDelegation(t *testing.T) {
	d := New(2, time.Second, nil)
	withTracked(d)
	d.Bind(func(ctx context.Context, _ ports.StartRequest, _ events.Listener) (*ports.RunResult, error) {
		<-ctx.Done()
		return &ports.RunResult{Answer: "the run timed out before the ledger check finished", Failed: true}, nil
	})

	// The parent run's own deadline fires long before the delegation budget.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result := d.Delegate(ctx, request(0), parentSnapshot("analyst"), nil)

	assert.False(t, result.Success)
	assert.NotContains(t, result.Error, "delegation timed out")
	assert.Contains(t, result.Error, "ledger check")
}

func TestPanickingNestedRunStillCleansUp(t *testing.T) {
	d := New(2, time.Second, nil)
	resource := withTracked(d)

	d.Bind(func(context.Context, ports.StartRequest, events.Listener) (*ports.RunResult, error) {
		panic("nested engine bug")
	})

	result := d.Delegate(context.Background(), request(0), parentSnapshot("analyst"), nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
	assert.True(t, result.ResourcesCleaned)
	assert.Equal(t, int32(1), resource.closes.Load())
}

func TestFailedReleaseReportedOnResult(t *testing.T) {
	d := New(2, time.Second, nil)
	stubborn := &trackedResource{name: "lease", fail: true}
	d.SetResourceOpener(func(string) ([]Resource, error) {
		return []Resource{stubborn}, nil
	})
	d.Bind(func(context.Context, ports.StartRequest, events.Listener) (*ports.RunResult, error) {
		return &ports.RunResult{Answer: "done"}, nil
	})

	result := d.Delegate(context.Background(), request(0), parentSnapshot("analyst"), nil)

	assert.True(t, result.Success, "the answer still stands")
	assert.False(t, result.ResourcesCleaned, "failed release must be visible")
}

func TestFailedNestedRunCarriesErrorAnswer(t *testing.T) {
	d := New(2, time.Second, nil)
	withTracked(d)
	d.Bind(func(context.Context, ports.StartRequest, events.Listener) (*ports.RunResult, error) {
		return &ports.RunResult{Answer: "could not reach the ledger service", Failed: true}, nil
	})

	result := d.Delegate(context.Background(), request(0), parentSnapshot("analyst"), nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "ledger service")
}

func TestDelegationEventsBracketTheRun(t *testing.T) {
	d := New(2, time.Second, nil)
	withTracked(d)
	d.Bind(func(context.Context, ports.StartRequest, events.Listener) (*ports.RunResult, error) {
		return &ports.RunResult{Answer: "ok"}, nil
	})

	var mu sync.Mutex
	var types []string
	listener := events.ListenerFunc(func(event events.Event) {
		mu.Lock()
		types = append(types, event.EventType())
		mu.Unlock()
	})

	d.Delegate(context.Background(), request(0), parentSnapshot("analyst"), listener)

	require.Len(t, types, 2)
	assert.Equal(t, "delegation_started", types[0])
	assert.Equal(t, "delegation_result", types[1])
}
