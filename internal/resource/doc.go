// Package resource bounds the shared resources of an index instance.
//
// A Controller manages three budgets: bytes held by the bitmap cache
// (reservations fail fast), maintenance slots for reconcile, backup and
// restore, and a token bucket for backup archive streams.
//
// A nil *Controller is unlimited.
//
//	rc := resource.NewController(resource.Config{
//	    CacheBytes:          256 << 20,
//	    TransferBytesPerSec: 32 << 20,
//	})
//	end, err := rc.BeginMaintenance(ctx)
//	if err != nil {
//	    return err
//	}
//	defer end()
package resource
