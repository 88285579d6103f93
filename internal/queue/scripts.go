package queue

import "github.com/redis/go-redis/v9"

// Every script takes its key names from the caller; per-entry metadata keys
// are derived inside the script from the prefix passed in ARGV.

// KEYS: meta, waiting, delayed
// ARGV: id, payload, max_attempts, backoff_initial_ms, backoff_multiplier, backoff_max_ms, now_ms, run_at_ms
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local state = 'waiting'
if tonumber(ARGV[8]) > tonumber(ARGV[7]) then
  state = 'delayed'
end
redis.call('HSET', KEYS[1],
  'payload', ARGV[2],
  'attempts', '0',
  'max_attempts', ARGV[3],
  'backoff_initial_ms', ARGV[4],
  'backoff_multiplier', ARGV[5],
  'backoff_max_ms', ARGV[6],
  'state', state,
  'created_at_ms', ARGV[7])
if state == 'delayed' then
  redis.call('ZADD', KEYS[3], ARGV[8], ARGV[1])
else
  redis.call('RPUSH', KEYS[2], ARGV[1])
end
return 1
`)

// KEYS: waiting, active, delayed
// ARGV: meta_prefix, lease_deadline_ms, lease_token, now_ms, promote_limit
// Due retries are moved to waiting first so a claim never waits on maintenance.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[4], 'LIMIT', 0, ARGV[5])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  local meta = ARGV[1] .. id
  if redis.call('EXISTS', meta) == 1 then
    redis.call('HSET', meta, 'state', 'waiting')
    redis.call('RPUSH', KEYS[1], id)
  end
end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return nil
  end
  local meta = ARGV[1] .. id
  if redis.call('EXISTS', meta) == 1 then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    redis.call('HSET', meta, 'state', 'active', 'lease', ARGV[3])
    return id
  end
end
`)

// KEYS: meta, active
// ARGV: id, lease_token, lease_deadline_ms
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'lease') ~= ARGV[2] then
  return 0
end
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// KEYS: meta, active, completed
// ARGV: id, lease_token, now_ms, retention_ms
var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'lease') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'completed')
redis.call('HDEL', KEYS[1], 'lease')
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// KEYS: meta, active, delayed, failed
// ARGV: id, lease_token, now_ms, retry_at_ms, last_error, retention_ms
// Returns {attempts, exhausted}; attempts is -1 when the lease was lost.
var failScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'lease') ~= ARGV[2] then
  return {-1, 0}
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], 'lease')
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
local max = tonumber(redis.call('HGET', KEYS[1], 'max_attempts'))
redis.call('HSET', KEYS[1], 'last_error', ARGV[5])
if attempts >= max then
  redis.call('HSET', KEYS[1], 'state', 'failed')
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
  redis.call('PEXPIRE', KEYS[1], ARGV[6])
  return {attempts, 1}
end
redis.call('HSET', KEYS[1], 'state', 'delayed')
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return {attempts, 0}
`)

// KEYS: delayed, waiting
// ARGV: now_ms, limit, meta_prefix
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local promoted = 0
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local meta = ARGV[3] .. id
  if redis.call('EXISTS', meta) == 1 then
    redis.call('HSET', meta, 'state', 'waiting')
    redis.call('RPUSH', KEYS[2], id)
    promoted = promoted + 1
  end
end
return promoted
`)

// KEYS: active, waiting, failed
// ARGV: now_ms, limit, meta_prefix, retention_ms
// Returns a flat list of id, attempts, exhausted triples.
var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local meta = ARGV[3] .. id
  if redis.call('EXISTS', meta) == 1 then
    redis.call('HDEL', meta, 'lease')
    local attempts = redis.call('HINCRBY', meta, 'attempts', 1)
    local max = tonumber(redis.call('HGET', meta, 'max_attempts'))
    redis.call('HSET', meta, 'last_error', 'lease expired')
    local exhausted = 0
    if attempts >= max then
      exhausted = 1
      redis.call('HSET', meta, 'state', 'failed')
      redis.call('ZADD', KEYS[3], ARGV[1], id)
      redis.call('PEXPIRE', meta, ARGV[4])
    else
      redis.call('HSET', meta, 'state', 'waiting')
      redis.call('RPUSH', KEYS[2], id)
    end
    table.insert(out, id)
    table.insert(out, attempts)
    table.insert(out, exhausted)
  end
end
return out
`)
