package ports

// Notifier is the fire-and-forget user-facing message surface. Callers never
// inspect an outcome; implementations decide how (or whether) to render.
type Notifier interface {
	Error(message string)
	Success(message string)
}
