package gateway

// Executor runs wrapped commands. Hosts whose APIs are bound to one thread
// supply an Executor that marshals fn onto it.
type Executor interface {
	Execute(fn func() (any, error)) (any, error)
}

// InlineExecutor runs fn on the calling goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Execute(fn func() (any, error)) (any, error) {
	return fn()
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func() (any, error)) (any, error)

func (f ExecutorFunc) Execute(fn func() (any, error)) (any, error) {
	return f(fn)
}

// Container is the window embedding the presentation process, if any.
type Container interface {
	Attach() error
	Detach() error
	Popup(alert string) error
	Close() error
}

// NopContainer is used when the presentation process runs unembedded.
type NopContainer struct{}

func (NopContainer) Attach() error      { return nil }
func (NopContainer) Detach() error      { return nil }
func (NopContainer) Popup(string) error { return nil }
func (NopContainer) Close() error       { return nil }
