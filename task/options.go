package task

import "time"

// Options configures per-task behavior at submission time.
type Options struct {
	// RetryBudget is how many requeues a failing task gets before Dead.
	RetryBudget int

	// Priority determines scheduling order among runnable tasks.
	// Higher values are placed first.
	Priority int

	// Timeout is the maximum duration one execution attempt may run.
	Timeout time.Duration

	// Resource the task must hold exclusively while executing.
	Resource Resource

	// DependsOn lists task identifiers that must complete first.
	DependsOn []string
}

// DefaultOptions returns Options with sensible defaults. The resource
// key defaults to the task's own identifier, i.e. no shared exclusion.
func DefaultOptions() Options {
	return Options{
		RetryBudget: 3,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for task submission.
type Option func(*Options)

// WithRetryBudget sets how many requeues a failing task gets.
func WithRetryBudget(n int) Option {
	return func(o *Options) { o.RetryBudget = n }
}

// WithPriority sets the scheduling priority. Higher runs first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the maximum duration of one execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithResource sets the resource descriptor the task must lock.
func WithResource(r Resource) Option {
	return func(o *Options) { o.Resource = r }
}

// WithDependsOn declares dependency task identifiers.
func WithDependsOn(ids ...string) Option {
	return func(o *Options) { o.DependsOn = append(o.DependsOn, ids...) }
}
