// Package gitserve provides HTTP and WebSocket server functionality for gitengine.
package gitserve

const broadcastChannelSize = 256

// All broadcast methods (handleBroadcast, sendToAllClients, broadcastUpdate)
// have been moved to RepoSession in session.go.
