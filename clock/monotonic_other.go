//go:build !amd64

package clock

func defaultCounter() Counter {
	return Monotonic()
}
