package events

import "context"

// Topic constants for domain events emitted by the register.
const (
	TopicBillCreated       = "bill.created"
	TopicBillStatusChanged = "bill.status_changed"
	TopicBillDeleted       = "bill.deleted"
)

// DefaultTopics returns every topic the bus emits.
func DefaultTopics() []string {
	return []string{
		TopicBillCreated,
		TopicBillStatusChanged,
		TopicBillDeleted,
	}
}

// Filter returns the notifier subscribed to the given topics only.
func Filter(n Notifier, topics ...string) Notifier {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return NotifierFunc(func(ctx context.Context, ev Event) error {
		if _, ok := set[ev.Topic]; !ok {
			return nil
		}
		return n.Notify(ctx, ev)
	})
}
