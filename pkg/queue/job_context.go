package queue

import "context"

// JobInfo describes the job a handler is running.
type JobInfo struct {
	ID          string
	Queue       string
	Type        string
	Attempt     int
	MaxAttempts int
}

type jobInfoKey struct{}

// JobFromContext returns the running job's info inside a handler.
func JobFromContext(ctx context.Context) (JobInfo, bool) {
	info, ok := ctx.Value(jobInfoKey{}).(JobInfo)
	return info, ok
}

// WithJobInfo returns a context carrying info. Workers set it before calling a
// handler; tests can use it to exercise handlers directly.
func WithJobInfo(ctx context.Context, info JobInfo) context.Context {
	return context.WithValue(ctx, jobInfoKey{}, info)
}

func jobInfo(job *Job) JobInfo {
	return JobInfo{
		ID:          job.ID,
		Queue:       job.Queue,
		Type:        job.Type,
		Attempt:     job.AttemptsMade,
		MaxAttempts: job.AttemptsMax,
	}
}
