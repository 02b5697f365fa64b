package runtime

import (
	"context"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/features"
	"github.com/drblury/adapterflow/stream"
)

// CheckHealth reports the process resource usage and the health of every
// registered adapter that supports the health check feature. An adapter
// whose check fails is reported Unhealthy.
func (s *Service) CheckHealth(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[features.HealthCheckResult], error) {
	cc = adapter.OrAnonymous(cc)
	return stream.Go(ctx, func(ctx context.Context) (features.HealthCheckResult, error) {
		inner := []features.HealthCheckResult{{
			DisplayName: "runtime",
			Status:      features.Healthy,
			Data:        s.resourceTracker.Snapshot().Data(),
		}}
		for _, a := range s.Adapters() {
			hc, err := adapter.Resolve(a, features.HealthCheckFeature)
			if err != nil {
				continue
			}
			inner = append(inner, adapterHealth(ctx, a, hc, cc))
		}
		return features.Composite("adapterflow", inner...), nil
	}, stream.WithName("runtime.health"), stream.WithHooks(s.hooks)), nil
}

func adapterHealth(ctx context.Context, a adapter.Adapter, hc features.HealthCheck, cc *adapter.CallContext) features.HealthCheckResult {
	failed := func(err error) features.HealthCheckResult {
		return features.HealthCheckResult{
			DisplayName: a.Descriptor().Name,
			Status:      features.Unhealthy,
			Error:       err.Error(),
		}
	}
	seq, err := hc.CheckHealth(ctx, cc)
	if err != nil {
		return failed(err)
	}
	res, err := stream.First(ctx, seq)
	if err != nil {
		return failed(err)
	}
	return res
}
