// Package jobs defines the queue names and payload shapes shared between job
// producers (API handlers, the autopost workflow) and the worker process.
package jobs

// Queue names.
const (
	// QueuePosts carries one-shot publish jobs, one per post
	QueuePosts = "posts"
	// QueueAutopost carries recurring autopost ticks, one scheduler per rule
	QueueAutopost = "autopost"
)

// PublishPayload is the body of a QueuePosts job
type PublishPayload struct {
	PostID string `json:"post_id"`
}

// AutopostPayload is the body of a QueueAutopost occurrence
type AutopostPayload struct {
	AutoPostID string `json:"autopost_id"`
}

// SchedulerID returns the stable scheduler id for an autopost rule, so
// re-registering the rule upserts its schedule instead of duplicating it
func SchedulerID(autopostID string) string {
	return "autopost:" + autopostID
}
