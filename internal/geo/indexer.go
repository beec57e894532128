package geo

import (
	"context"

	"github.com/wookieewrath/OnMyWay/internal/events"
)

// EventIndexer is an events.Publisher that indexes created requests in
// process. It stands in for the Kafka consumer when no broker is configured.
type EventIndexer struct {
	Index Index
}

func (x EventIndexer) Publish(ctx context.Context, e events.Event) error {
	if e.Kind != events.KindRequestCreated || e.Request == nil {
		return nil
	}
	return x.Index.Upsert(ctx, FromRequest(e.Subject, *e.Request))
}
