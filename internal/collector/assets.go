package collector

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autodiag/pkg/automation"
)

// CollectAssets lists every asset of kind in acct and fetches each detail.
// Any failure aborts the kind: no partial list is returned.
func (c *Collector) CollectAssets(ctx context.Context, acct automation.Account, kind automation.AssetKind) ([]automation.Asset, error) {
	ctx, span := c.tracer.Start(ctx, "collector.assets",
		trace.WithAttributes(
			attribute.String("account", acct.Key()),
			attribute.String("asset.kind", string(kind)),
		),
	)
	defer span.End()

	assets, err := c.collectAssets(ctx, acct, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "asset collection failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("asset.count", len(assets)))
	return assets, nil
}

func (c *Collector) collectAssets(ctx context.Context, acct automation.Account, kind automation.AssetKind) ([]automation.Asset, error) {
	summaries, err := c.src.ListAssets(ctx, acct, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s assets in %s: %w", kind, acct.Key(), err)
	}

	assets := make([]automation.Asset, 0, len(summaries))
	for _, s := range summaries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		asset, err := c.src.GetAsset(ctx, acct, kind, s.Name)
		if err != nil {
			return nil, fmt.Errorf("get %s %q in %s: %w", kind, s.Name, acct.Key(), err)
		}
		assets = append(assets, asset)
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].Name < assets[j].Name
	})
	return assets, nil
}
