package redisstore

import "github.com/redis/go-redis/v9"

// Key layout, relative to the configured prefix:
//
//	<prefix>:job:<id>              hash, one per job
//	<prefix>:q:<queue>:pending     zset of waiting and delayed ids, scored by run_at (ms)
//	<prefix>:q:<queue>:active      zset of active ids, scored by locked_until (ms)
//	<prefix>:q:<queue>:completed   zset scored by finished_at (ms)
//	<prefix>:q:<queue>:failed      zset scored by finished_at (ms)
//
// Scripts derive keys from the prefix and the job's queue field, so the store
// targets a single Redis node rather than a cluster.

// Shared prologue: resolves the job hash and its queue key base.
const luaHelpers = `
local prefix = ARGV[1]
local function jobKey(id) return prefix .. ':job:' .. id end
local function queueKey(q, bucket) return prefix .. ':q:' .. q .. ':' .. bucket end
local function bucketOf(state)
	if state == 'waiting' or state == 'delayed' then return 'pending' end
	return state
end
`

// Owned-job prologue: ARGV[2] id, ARGV[3] token. Returns 0 when the token no longer
// holds the lock.
const luaOwned = luaHelpers + `
local key = jobKey(ARGV[2])
local fields = redis.call('HMGET', key, 'state', 'lock_token', 'queue')
if fields[1] ~= 'active' or fields[2] ~= ARGV[3] then
	return 0
end
local q = fields[3]
`

// ARGV[1] prefix, ARGV[2] id, ARGV[3] queue, ARGV[4] run_at score, ARGV[5..] field/value pairs.
var enqueueScript = redis.NewScript(luaHelpers + `
local key = jobKey(ARGV[2])
if redis.call('EXISTS', key) == 1 then
	return 0
end
local args = {}
for i = 5, #ARGV do
	args[#args + 1] = ARGV[i]
end
redis.call('HSET', key, unpack(args))
redis.call('ZADD', queueKey(ARGV[3], 'pending'), ARGV[4], ARGV[2])
return 1
`)

// ARGV[1] prefix, ARGV[2] queue, ARGV[3] now score, ARGV[4] token,
// ARGV[5] locked_until score, ARGV[6] locked_until, ARGV[7] now.
var claimScript = redis.NewScript(luaHelpers + `
local pending = queueKey(ARGV[2], 'pending')
local ids = redis.call('ZRANGEBYSCORE', pending, '-inf', ARGV[3], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
local key = jobKey(id)
redis.call('ZREM', pending, id)
redis.call('ZADD', queueKey(ARGV[2], 'active'), ARGV[5], id)
redis.call('HSET', key, 'state', 'active', 'lock_token', ARGV[4], 'locked_until', ARGV[6], 'last_attempt_at', ARGV[7])
redis.call('HINCRBY', key, 'attempts_made', 1)
return redis.call('HGETALL', key)
`)

// ARGV[1] prefix, ARGV[2] id, ARGV[3] token, ARGV[4] locked_until score, ARGV[5] locked_until.
var heartbeatScript = redis.NewScript(luaOwned + `
redis.call('ZADD', queueKey(q, 'active'), 'XX', ARGV[4], ARGV[2])
redis.call('HSET', key, 'locked_until', ARGV[5])
return 1
`)

// ARGV[1] prefix, ARGV[2] id, ARGV[3] token, ARGV[4] remove flag, ARGV[5] now score, ARGV[6] now.
var completeScript = redis.NewScript(luaOwned + `
redis.call('ZREM', queueKey(q, 'active'), ARGV[2])
if ARGV[4] == '1' then
	redis.call('DEL', key)
	return 1
end
redis.call('HDEL', key, 'lock_token', 'locked_until', 'last_error')
redis.call('HSET', key, 'state', 'completed', 'finished_at', ARGV[6])
redis.call('ZADD', queueKey(q, 'completed'), ARGV[5], ARGV[2])
return 1
`)

// ARGV[1] prefix, ARGV[2] id, ARGV[3] token, ARGV[4] run_at score, ARGV[5] run_at, ARGV[6] error.
var retryScript = redis.NewScript(luaOwned + `
redis.call('ZREM', queueKey(q, 'active'), ARGV[2])
redis.call('HDEL', key, 'lock_token', 'locked_until')
redis.call('HSET', key, 'state', 'waiting', 'run_at', ARGV[5], 'last_error', ARGV[6])
redis.call('ZADD', queueKey(q, 'pending'), ARGV[4], ARGV[2])
return 1
`)

// ARGV[1] prefix, ARGV[2] id, ARGV[3] token, ARGV[4] now score, ARGV[5] now, ARGV[6] error.
var failScript = redis.NewScript(luaOwned + `
redis.call('ZREM', queueKey(q, 'active'), ARGV[2])
redis.call('HDEL', key, 'lock_token', 'locked_until')
redis.call('HSET', key, 'state', 'failed', 'finished_at', ARGV[5], 'last_error', ARGV[6])
redis.call('ZADD', queueKey(q, 'failed'), ARGV[4], ARGV[2])
return 1
`)

// ARGV[1] prefix, ARGV[2] id. Returns -1 when missing, -2 when active.
var removeScript = redis.NewScript(luaHelpers + `
local key = jobKey(ARGV[2])
local fields = redis.call('HMGET', key, 'state', 'queue')
if not fields[1] then
	return -1
end
if fields[1] == 'active' then
	return -2
end
redis.call('ZREM', queueKey(fields[2], bucketOf(fields[1])), ARGV[2])
redis.call('DEL', key)
return 1
`)

// ARGV[1] prefix, ARGV[2] id, ARGV[3] now score, ARGV[4] now.
// Returns -1 when missing, -2 when the job is not failed.
var requeueScript = redis.NewScript(luaHelpers + `
local key = jobKey(ARGV[2])
local fields = redis.call('HMGET', key, 'state', 'queue')
if not fields[1] then
	return -1
end
if fields[1] ~= 'failed' then
	return -2
end
redis.call('ZREM', queueKey(fields[2], 'failed'), ARGV[2])
redis.call('HDEL', key, 'finished_at')
redis.call('HSET', key, 'state', 'waiting', 'run_at', ARGV[4], 'attempts_made', 0, 'stalled_count', 0)
redis.call('ZADD', queueKey(fields[2], 'pending'), ARGV[3], ARGV[2])
return 1
`)

// ARGV[1] prefix, ARGV[2] queue, ARGV[3] now score, ARGV[4] now,
// ARGV[5] max stalled, ARGV[6] stalled error. Returns one HGETALL reply per job.
var recoverScript = redis.NewScript(luaHelpers + `
local active = queueKey(ARGV[2], 'active')
local ids = redis.call('ZRANGEBYSCORE', active, '-inf', '(' .. ARGV[3])
local maxStalled = tonumber(ARGV[5])
local out = {}
for _, id in ipairs(ids) do
	local key = jobKey(id)
	redis.call('ZREM', active, id)
	redis.call('HDEL', key, 'lock_token', 'locked_until')
	local stalled = redis.call('HINCRBY', key, 'stalled_count', 1)
	if stalled > maxStalled then
		redis.call('HSET', key, 'state', 'failed', 'finished_at', ARGV[4], 'last_error', ARGV[6])
		redis.call('ZADD', queueKey(ARGV[2], 'failed'), ARGV[3], id)
	else
		local attempts = tonumber(redis.call('HGET', key, 'attempts_made') or '0')
		if attempts > 0 then
			attempts = attempts - 1
		end
		redis.call('HSET', key, 'state', 'waiting', 'run_at', ARGV[4], 'attempts_made', attempts)
		redis.call('ZADD', queueKey(ARGV[2], 'pending'), ARGV[3], id)
	end
	out[#out + 1] = redis.call('HGETALL', key)
end
return out
`)
