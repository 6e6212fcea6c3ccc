package dispatch

import "context"

// Request is a broadcast of one announcement to one destination.
type Request struct {
	Audio    []byte
	URL      string
	Options  *PlayOptions
	MatchID  string
	Identity string
}

// Broadcaster is the delivery surface consumed by the delivery resolver.
type Broadcaster interface {
	Broadcast(ctx context.Context, key string, req Request) (ok bool, status string)
}

var _ Broadcaster = (*Queue)(nil)

// Broadcast queues req behind any earlier jobs for key and waits for its own
// playback result. If ctx ends first the job stays queued and still plays;
// only the caller stops waiting.
func (q *Queue) Broadcast(ctx context.Context, key string, req Request) (bool, string) {
	opt := q.options(req.Options)
	res := make(chan Result, 1)
	if !q.Enqueue(key, Job{
		Audio:    req.Audio,
		URL:      req.URL,
		Options:  opt,
		MatchID:  req.MatchID,
		Identity: req.Identity,
		result:   res,
	}) {
		return false, StatusEnqueueFailed
	}
	select {
	case r := <-res:
		return r.OK, r.Status
	case <-ctx.Done():
		return false, StatusCanceled
	}
}
