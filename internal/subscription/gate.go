package subscription

import (
	"context"
	"time"
)

// Gate applies the limits of the subscription carried on the request
// context. A disabled gate allows everything, which is how local development
// runs without tokens.
type Gate struct {
	Enabled bool
	Now     func() time.Time
}

func (g Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Bills checks the bill quota.
func (g Gate) Bills(ctx context.Context, count int) error {
	if !g.Enabled {
		return nil
	}
	return FromContext(ctx).CanCreateBill(count, g.now())
}

// Items checks the catalog quota.
func (g Gate) Items(ctx context.Context, count int) error {
	if !g.Enabled {
		return nil
	}
	return FromContext(ctx).CanAddItem(count, g.now())
}

// Customers checks the customer quota.
func (g Gate) Customers(ctx context.Context, count int) error {
	if !g.Enabled {
		return nil
	}
	return FromContext(ctx).CanAddCustomer(count, g.now())
}

// Feature checks a plan capability.
func (g Gate) Feature(ctx context.Context, f Feature) error {
	if !g.Enabled {
		return nil
	}
	return FromContext(ctx).RequireFeature(f, g.now())
}
