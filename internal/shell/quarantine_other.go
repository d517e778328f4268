//go:build !darwin

package shell

func StripQuarantine(path string) error { return nil }
