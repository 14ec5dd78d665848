// Package redisq is a Redis backed dispatch queue and job lock, for running
// workers in more than one process against the same job store.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"filingctl/internal/dispatch"
)

var _ dispatch.Queue = (*Queue)(nil)

// Each script touches one unit and its index entries atomically.
var (
	enqueueScript = redis.NewScript(`
local tok = redis.call('HGET', KEYS[3], 'token')
if tok and tok ~= '' then
  redis.call('HSET', KEYS[3], 'pending_payload', ARGV[2], 'pending_not_before', ARGV[3])
  return 0
end
redis.call('HSET', KEYS[3], 'payload', ARGV[2], 'not_before', ARGV[3], 'owner', '', 'token', '', 'deliveries', 0)
redis.call('HDEL', KEYS[3], 'pending_payload', 'pending_not_before')
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

	claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local pick = nil
local from = nil
local r = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
if #r > 0 then
  pick = r[1]
  from = 'ready'
end
local e = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 1)
if #e > 0 then
  local enb = tonumber(redis.call('HGET', ARGV[5] .. e[1], 'not_before')) or 0
  if not pick or enb < tonumber(redis.call('ZSCORE', KEYS[1], pick)) then
    pick = e[1]
    from = 'leased'
  end
end
if not pick then
  return false
end
local key = ARGV[5] .. pick
if from == 'ready' then
  redis.call('ZREM', KEYS[1], pick)
end
redis.call('ZADD', KEYS[2], ARGV[4], pick)
local d = redis.call('HINCRBY', key, 'deliveries', 1)
redis.call('HSET', key, 'owner', ARGV[2], 'token', ARGV[3])
local h = redis.call('HMGET', key, 'payload', 'not_before')
return {pick, h[1], h[2], d}
`)

	releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], 'token') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
local pp = redis.call('HGET', KEYS[3], 'pending_payload')
if pp then
  local pnb = redis.call('HGET', KEYS[3], 'pending_not_before')
  redis.call('HSET', KEYS[3], 'payload', pp, 'not_before', pnb, 'owner', '', 'token', '', 'deliveries', 0)
  redis.call('HDEL', KEYS[3], 'pending_payload', 'pending_not_before')
  redis.call('ZADD', KEYS[1], pnb, ARGV[1])
  return 1
end
if ARGV[3] == 'ack' then
  redis.call('DEL', KEYS[3])
  return 1
end
local d = tonumber(redis.call('HGET', KEYS[3], 'deliveries')) - 1
if d < 0 then d = 0 end
redis.call('HSET', KEYS[3], 'not_before', ARGV[4], 'owner', '', 'token', '', 'deliveries', d)
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return 1
`)
)

type Option func(*Queue)

func WithPrefix(p string) Option {
	return func(q *Queue) {
		if p != "" {
			q.keys = keys{prefix: p}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue implements dispatch.Queue. The caller owns the client lifecycle.
type Queue struct {
	client redis.Cmdable
	keys   keys
	logger *slog.Logger
}

func New(client redis.Cmdable, opts ...Option) *Queue {
	q := &Queue{client: client, keys: keys{prefix: "filingctl"}, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Enqueue(ctx context.Context, u dispatch.Unit) error {
	payload, err := json.Marshal(u.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	err = enqueueScript.Run(ctx, q.client,
		[]string{q.keys.ready(), q.keys.leased(), q.keys.unit(u.JobID)},
		u.JobID, string(payload), u.NotBefore.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", u.JobID, err)
	}
	return nil
}

func (q *Queue) Claim(ctx context.Context, owner string, now time.Time, ttl time.Duration) (*dispatch.Lease, error) {
	token := uuid.NewString()
	until := now.Add(ttl)

	res, err := claimScript.Run(ctx, q.client,
		[]string{q.keys.ready(), q.keys.leased()},
		now.UnixMilli(), owner, token, until.UnixMilli(), q.keys.unitPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("claim: unexpected reply %v", res)
	}

	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	nbStr, _ := res[2].(string)
	deliveries, _ := res[3].(int64)

	nb, err := strconv.ParseInt(nbStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("claim %s: bad not_before %q", id, nbStr)
	}

	l := &dispatch.Lease{
		Unit:       dispatch.Unit{JobID: id, NotBefore: time.UnixMilli(nb).UTC()},
		Owner:      owner,
		Token:      token,
		Deliveries: int(deliveries),
		Until:      until,
	}
	if err := json.Unmarshal([]byte(payload), &l.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", id, err)
	}
	return l, nil
}

func (q *Queue) Ack(ctx context.Context, l *dispatch.Lease) error {
	return q.release(ctx, l, "ack", time.Time{})
}

func (q *Queue) Retry(ctx context.Context, l *dispatch.Lease, notBefore time.Time) error {
	return q.release(ctx, l, "retry", notBefore)
}

func (q *Queue) release(ctx context.Context, l *dispatch.Lease, mode string, notBefore time.Time) error {
	n, err := releaseScript.Run(ctx, q.client,
		[]string{q.keys.ready(), q.keys.leased(), q.keys.unit(l.JobID)},
		l.JobID, l.Token, mode, notBefore.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("%s %s: %w", mode, l.JobID, err)
	}
	if n == 0 {
		q.logger.Warn("stale lease release ignored",
			slog.String("job_id", l.JobID),
			slog.String("owner", l.Owner),
		)
	}
	return nil
}

func (q *Queue) Has(ctx context.Context, jobID string) (bool, error) {
	n, err := q.client.Exists(ctx, q.keys.unit(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup unit %s: %w", jobID, err)
	}
	return n > 0, nil
}

// Depth returns the number of ready and leased units.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.keys.ready())
	leased := pipe.ZCard(ctx, q.keys.leased())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return ready.Val() + leased.Val(), nil
}
