package router

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// chatLocks serializes command processing per chat without a global
// lock: commands for the same chat contend on one shard, distinct chats
// almost always proceed in parallel. The database row lock is the
// durable guarantee; this keeps a single process from queueing
// transactions against its own chat.
type chatLocks struct {
	shards [lockShards]sync.Mutex
}

func newChatLocks() *chatLocks {
	return &chatLocks{}
}

func (l *chatLocks) lock(chatID string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	shard := &l.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
