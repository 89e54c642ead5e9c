package redis

const (
	// recordRunScript atomically stores a run and trims the history index
	recordRunScript = `
local run_key = KEYS[1]     -- shibasync:run:{runID}
local index_key = KEYS[2]   -- shibasync:runs

local key_prefix = ARGV[1]
local run_id = ARGV[2]
local score = ARGV[3]
local keep = tonumber(ARGV[4])

-- Remaining args are field/value pairs
local fields = {}
for i = 5, #ARGV do
  fields[#fields + 1] = ARGV[i]
end

redis.call('DEL', run_key)
redis.call('HSET', run_key, unpack(fields))
redis.call('ZADD', index_key, score, run_id)

-- Drop the oldest runs beyond the history size
local excess = redis.call('ZCARD', index_key) - keep
if keep > 0 and excess > 0 then
  local old = redis.call('ZRANGE', index_key, 0, excess - 1)
  for _, id in ipairs(old) do
    redis.call('DEL', key_prefix .. id)
  end
  redis.call('ZREMRANGEBYRANK', index_key, 0, excess - 1)
  return excess
end

return 0
`
)
