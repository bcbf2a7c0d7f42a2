package mq

import "context"

// CachedObjectRef identifies one stored size variant by bucket and key.
type CachedObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int    `json:"size"`
}

// AvatarCachedEvent is published after the background fan-out finishes and
// every size variant for a source URL has been attempted. Consumers define
// their own matching struct — the contract is the JSON schema.
type AvatarCachedEvent struct {
	Name      string            `json:"name"`
	SourceURL string            `json:"source_url"`
	Variants  []CachedObjectRef `json:"variants"`
	Timestamp int64             `json:"timestamp"`
}

// AvatarEventPublisher abstracts the producer for avatar-cached events.
type AvatarEventPublisher interface {
	PublishAvatarCached(ctx context.Context, event *AvatarCachedEvent) error
	Close() error
}
