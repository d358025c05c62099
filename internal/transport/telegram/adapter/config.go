package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout; default 10s
	SendTimeout time.Duration // HTTP timeout per API call; default 15s

	// Offline skips the getMe handshake. Used in tests.
	Offline bool
}
