package logger

// Reset removes all backends.
func Reset() {
	singleton = nil
}
