package room

import "fmt"

// Key shapes for the per-room triple. The braces around the room id are a
// Redis hash-tag so state, meta, and lock for one room land on the same
// cluster slot.

// StateKey is the key holding the encoded game state.
func StateKey(gameType, roomID string) string {
	return fmt.Sprintf("game:%s:{%s}:state", gameType, roomID)
}

// MetaKey is the key holding the JSON room meta.
func MetaKey(gameType, roomID string) string {
	return fmt.Sprintf("game:%s:{%s}:meta", gameType, roomID)
}

// LockKey is the short-TTL mutation lock for a room.
func LockKey(gameType, roomID string) string {
	return fmt.Sprintf("game:%s:{%s}:lock", gameType, roomID)
}

// FeedChannel is the pub/sub channel carrying state and event pushes for
// a room's subscribers.
func FeedChannel(gameType, roomID string) string {
	return fmt.Sprintf("game:%s:{%s}:feed", gameType, roomID)
}

// Registry key shapes.

// roomsKey is the global hash mapping room id to game type.
const roomsKey = "game:rooms"

// usersKey is the advisory hash mapping user id to their active room.
const usersKey = "game:users"

// typeIndexKey is the per-type sorted set scored by creation unix-seconds.
func typeIndexKey(gameType string) string {
	return fmt.Sprintf("game:%s:rooms", gameType)
}
