package audio

// Drain discards values from ch until it is closed. Run it in its own
// goroutine to release a producer, such as a TTS stream, whose remaining
// output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
