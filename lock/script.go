package lock

import "github.com/redis/go-redis/v9"

// Exclusive lock: KEYS[1] = lock key, ARGV[1] = token, ARGV[2] = ttl (ms)
var (
	lockScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	return 1
end
return 0
`)

	refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

	unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// Read / write lock:
// KEYS[1] = readers (sorted set token -> expire at ms), KEYS[2] = writer, KEYS[3] = writer intent
// ARGV[1] = token, ARGV[2] = ttl (ms), ARGV[3] = now (ms), ARGV[4] = now + ttl (ms)
var (
	readLockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 or redis.call('EXISTS', KEYS[3]) == 1 then
	return 0
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

	readRefreshScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local expire = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not expire or tonumber(expire) < tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

	readUnlockScript = redis.NewScript(`
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

	// a writer blocked by readers leaves its intent so that new readers back off
	writeLockScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
if redis.call('ZCARD', KEYS[1]) > 0 then
	redis.call('SET', KEYS[3], ARGV[1], 'PX', ARGV[2])
	return 0
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
if redis.call('GET', KEYS[3]) == ARGV[1] then
	redis.call('DEL', KEYS[3])
end
return 1
`)
)
