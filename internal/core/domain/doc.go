// Package domain defines the core domain models for channelmesh.
//
// Domain models are pure value objects without any IO dependencies
// or framework coupling. This package contains:
//
//   - ChannelMode and SubscriptionKey: the channel address space
//     (exact channels, glob patterns, shard channels)
//   - PubSubMessage: an inbound pub/sub delivery
//   - HashSlot: Valkey cluster hash-slot computation for shard channels
//   - Errors: the structured error taxonomy shared by all packages
package domain
