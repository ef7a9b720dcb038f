package worker

import (
	"context"
	"text2phenotype.com/seqtag/redis"
)

// redisTransactions remembers published replies so a redelivered message is answered
// without running the pipeline again.
type redisTransactions interface {
	getReply(tid string) ([]byte, bool, error)
	saveReply(tid string, reply []byte) error
	close()
}

type redisClientWrapper struct {
	client *redis.Client
}

func (wrapper *redisClientWrapper) close() {}

func (wrapper *redisClientWrapper) getReply(tid string) ([]byte, bool, error) {
	values, err := wrapper.client.MGet(context.Background(), []string{replyKey(tid)})
	if err != nil {
		return nil, false, err
	}
	if len(values) == 0 || values[0] == nil {
		return nil, false, nil
	}
	return values[0], true, nil
}

func (wrapper *redisClientWrapper) saveReply(tid string, reply []byte) error {
	return wrapper.client.MSet(context.Background(), map[string][]byte{replyKey(tid): reply})
}

type noRedis struct{}

func (noRedis) close() {}

func (noRedis) getReply(string) ([]byte, bool, error) {
	return nil, false, nil
}

func (noRedis) saveReply(string, []byte) error {
	return nil
}
