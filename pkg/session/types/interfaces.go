package types

import "context"

// MediaDecrypter downloads and decrypts the media referenced by a message.
// The session runtime owns the decryption keys.
type MediaDecrypter interface {
	DecryptFile(ctx context.Context, msg *MessageEvent) ([]byte, error)
}

// Handler consumes one event from the bus
type Handler func(ctx context.Context, client MediaDecrypter, ev Event)
