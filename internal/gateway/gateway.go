package gateway

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/backoff"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cache"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/metrics"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/remote"
)

// Gateway is the only component allowed to write into the state cache.
// Reads go cache-first; state-changing calls always hit the remote API and
// invalidate the cached snapshot on success.
type Gateway struct {
	client remote.Client
	cache  *cache.Cache
	policy backoff.Policy

	ttl      time.Duration
	tagKey   string
	tagValue string

	log *zap.Logger
	now func() time.Time
}

// ActionResult carries timing and outcome context so the caller can audit
// the call; the gateway itself only logs at debug level.
type ActionResult struct {
	ResourceID string        `json:"resource_id"`
	Op         string        `json:"op"`
	Elapsed    time.Duration `json:"elapsed"`
}

func New(client remote.Client, c *cache.Cache, policy backoff.Policy, ttl time.Duration, tagKey, tagValue string, log *zap.Logger) *Gateway {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Gateway{
		client:   client,
		cache:    c,
		policy:   policy,
		ttl:      ttl,
		tagKey:   tagKey,
		tagValue: tagValue,
		log:      log,
		now:      time.Now,
	}
}

func stateKey(resourceID string) string { return "state:" + resourceID }

func (g *Gateway) listKey() string {
	return fmt.Sprintf("instances:%s:%s", g.tagKey, g.tagValue)
}

// GetState returns a snapshot for resourceID. With forceRefresh the cache
// read is bypassed but the fresh result still lands in the cache, so a
// user-triggered refresh benefits the next poll.
func (g *Gateway) GetState(ctx context.Context, resourceID string, forceRefresh bool) (domain.ResourceState, error) {
	key := stateKey(resourceID)
	if !forceRefresh {
		if v, ok := g.cache.Get(key); ok {
			return v.(domain.ResourceState), nil
		}
	}

	raw, err := backoff.Execute(ctx, g.policy, "describe", resourceID, func(ctx context.Context) (remote.RawState, error) {
		return g.client.Describe(ctx, resourceID)
	})
	metrics.RecordRemoteCall("describe", err)
	if err != nil {
		return domain.ResourceState{}, err
	}

	st := g.toState(raw)
	g.cache.Set(key, st, g.ttl)
	return st, nil
}

// ListResources returns the ids of every tracked resource, resolved by tag
// the same way state reads are: cached, retried, refresh-on-demand.
func (g *Gateway) ListResources(ctx context.Context, forceRefresh bool) ([]string, error) {
	key := g.listKey()
	if !forceRefresh {
		if v, ok := g.cache.Get(key); ok {
			return v.([]string), nil
		}
	}

	ids, err := backoff.Execute(ctx, g.policy, "list", g.tagValue, func(ctx context.Context) ([]string, error) {
		return g.client.ListByTag(ctx, g.tagKey, g.tagValue)
	})
	metrics.RecordRemoteCall("list", err)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	g.cache.Set(key, ids, g.ttl)
	return ids, nil
}

// Invalidate drops the cached snapshot for resourceID so the next read
// observes the remote API directly.
func (g *Gateway) Invalidate(resourceID string) {
	g.cache.Invalidate(stateKey(resourceID))
}

// Start powers on the resource. Never cached; the stale snapshot is
// invalidated on success so the next read reflects the transition.
func (g *Gateway) Start(ctx context.Context, resourceID string) (ActionResult, error) {
	return g.mutate(ctx, "start", resourceID, g.client.Start)
}

// Stop powers off the resource.
func (g *Gateway) Stop(ctx context.Context, resourceID string) (ActionResult, error) {
	return g.mutate(ctx, "stop", resourceID, g.client.Stop)
}

// Reboot restarts the resource.
func (g *Gateway) Reboot(ctx context.Context, resourceID string) (ActionResult, error) {
	return g.mutate(ctx, "reboot", resourceID, g.client.Reboot)
}

func (g *Gateway) mutate(ctx context.Context, op, resourceID string, call func(context.Context, string) error) (ActionResult, error) {
	started := g.now()
	_, err := backoff.Execute(ctx, g.policy, op, resourceID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx, resourceID)
	})
	metrics.RecordRemoteCall(op, err)

	res := ActionResult{ResourceID: resourceID, Op: op, Elapsed: g.now().Sub(started)}
	if err != nil {
		return res, err
	}
	g.Invalidate(resourceID)
	g.log.Debug("gateway_action",
		zap.String("op", op),
		zap.String("resource_id", resourceID),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// WaitForStatus polls with forced refreshes until the resource reaches
// want or the deadline passes. Returns false (no error) on timeout.
func (g *Gateway) WaitForStatus(ctx context.Context, resourceID string, want domain.Status, timeout, pollEvery time.Duration) (bool, error) {
	deadline := g.now().Add(timeout)
	t := time.NewTicker(pollEvery)
	defer t.Stop()

	for {
		st, err := g.GetState(ctx, resourceID, true)
		if err != nil {
			return false, err
		}
		if st.Status == want {
			return true, nil
		}
		if !g.now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
	}
}

func (g *Gateway) toState(raw remote.RawState) domain.ResourceState {
	return domain.ResourceState{
		ResourceID:    raw.ResourceID,
		Status:        domain.ParseStatus(raw.Status),
		PublicAddress: raw.PublicAddress,
		InstanceClass: raw.InstanceClass,
		LaunchTime:    raw.LaunchTime,
		Metadata:      raw.Tags,
		ObservedAt:    g.now(),
	}
}
