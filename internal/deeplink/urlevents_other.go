//go:build !darwin

package deeplink

import "context"

// URLEvents yields nothing off macOS; links arrive on the command line.
func URLEvents(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}
