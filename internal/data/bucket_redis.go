package data

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"GuardLane/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//   guard:bucket:global         hash {tokens, ts, cap, rate}
//   guard:bucket:tenant:{name}  hash {tokens, ts, cap, rate}
//   guard:penalty:{name}        string with PX = remaining penalty
const (
	bucketKeyGlobal       = "guard:bucket:global"
	bucketKeyTenantPrefix = "guard:bucket:tenant:"
	penaltyKeyPrefix      = "guard:penalty:"

	defaultBucketTTL = 15 * time.Minute
)

// admitScript refills both scope buckets and takes n tokens from each, or
// from neither. Runs as one script so concurrent admissions cannot
// double-spend or leave the scopes out of step. Token counts travel as
// strings because Lua table replies truncate numbers to integers.
var admitScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local gcap = tonumber(ARGV[3])
local grate = tonumber(ARGV[4])
local tcap = tonumber(ARGV[5])
local trate = tonumber(ARGV[6])
local ttl_ms = tonumber(ARGV[7])

local function refill(key, cap, rate)
  local vals = redis.call('HMGET', key, 'tokens', 'ts')
  local tokens = cap
  if vals[1] then
    local elapsed = (now_ms - tonumber(vals[2])) / 1000
    if elapsed < 0 then elapsed = 0 end
    tokens = tonumber(vals[1]) + elapsed * rate
    if tokens > cap then tokens = cap end
  end
  return tokens
end

local function store(key, cap, rate, tokens)
  redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now_ms), 'cap', tostring(cap), 'rate', tostring(rate))
  redis.call('PEXPIRE', key, ttl_ms)
end

local function wait_for(deficit, rate)
  if rate <= 0 then return 1e15 end
  return deficit / rate * 1000
end

local gtokens = refill(KEYS[1], gcap, grate)
local ttokens = refill(KEYS[2], tcap, trate)

local pttl = redis.call('PTTL', KEYS[3])
if pttl > 0 then
  store(KEYS[1], gcap, grate, gtokens)
  store(KEYS[2], tcap, trate, ttokens)
  return {0, 'tenant', tostring(pttl), tostring(gtokens), tostring(ttokens)}
end

if gtokens >= n and ttokens >= n then
  store(KEYS[1], gcap, grate, gtokens - n)
  store(KEYS[2], tcap, trate, ttokens - n)
  return {1, '', '0', tostring(gtokens - n), tostring(ttokens - n)}
end

local gwait = 0
if gtokens < n then gwait = wait_for(n - gtokens, grate) end
local twait = 0
if ttokens < n then twait = wait_for(n - ttokens, trate) end

local scope = 'global'
local wait = gwait
if twait > gwait then
  scope = 'tenant'
  wait = twait
end

store(KEYS[1], gcap, grate, gtokens)
store(KEYS[2], tcap, trate, ttokens)
return {0, scope, tostring(wait), tostring(gtokens), tostring(ttokens)}
`)

// redisBucketStore shares bucket state across instances through Redis.
// Bucket hashes carry an idle TTL refreshed on every touch, so abandoned
// tenants expire server-side without a sweeper.
type redisBucketStore struct {
	rdb *redis.Client
	ttl time.Duration
	clk clock.Clock
}

func newRedisBucketStore(rdb *redis.Client, idleTTL time.Duration, clk clock.Clock) *redisBucketStore {
	if idleTTL <= 0 {
		idleTTL = defaultBucketTTL
	}
	return &redisBucketStore{rdb: rdb, ttl: idleTTL, clk: clk}
}

// Admit implements bucketStore.
func (s *redisBucketStore) Admit(ctx context.Context, tenant string, global, perTenant model.BucketSpec, n int) (*model.AdmitResult, error) {
	keys := []string{bucketKeyGlobal, bucketKeyTenantPrefix + tenant, penaltyKeyPrefix + tenant}
	args := []interface{}{
		s.clk.Now().UnixMilli(),
		n,
		global.Capacity,
		global.RefillRate,
		perTenant.Capacity,
		perTenant.RefillRate,
		s.ttl.Milliseconds(),
	}

	res, err := admitScript.Run(ctx, s.rdb, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to run admission script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 5 {
		return nil, fmt.Errorf("unexpected admission script reply: %v", res)
	}

	allowed, _ := arr[0].(int64)
	scope, _ := arr[1].(string)
	waitMs, err := scriptFloat(arr[2])
	if err != nil {
		return nil, fmt.Errorf("failed to parse admission wait: %w", err)
	}
	gTokens, err := scriptFloat(arr[3])
	if err != nil {
		return nil, fmt.Errorf("failed to parse global tokens: %w", err)
	}
	tTokens, err := scriptFloat(arr[4])
	if err != nil {
		return nil, fmt.Errorf("failed to parse tenant tokens: %w", err)
	}

	out := &model.AdmitResult{
		Allowed: allowed == 1,
		Global: model.BucketView{
			Scope:      "global",
			Tokens:     gTokens,
			Capacity:   global.Capacity,
			RefillRate: global.RefillRate,
		},
		Tenant: model.BucketView{
			Scope:      tenant,
			Tokens:     tTokens,
			Capacity:   perTenant.Capacity,
			RefillRate: perTenant.RefillRate,
		},
	}
	if !out.Allowed {
		if scope == "tenant" {
			scope = tenant
		}
		out.DeniedScope = scope
		out.RetryAfter = time.Duration(waitMs * float64(time.Millisecond))
	}
	return out, nil
}

// Penalize implements bucketStore. The longest pending penalty wins, same
// as the memory store.
func (s *redisBucketStore) Penalize(ctx context.Context, tenant string, d time.Duration) error {
	key := penaltyKeyPrefix + tenant

	remaining, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check penalty ttl: %w", err)
	}
	if remaining >= d {
		return nil
	}
	if err := s.rdb.Set(ctx, key, "1", d).Err(); err != nil {
		return fmt.Errorf("failed to set penalty: %w", err)
	}
	return nil
}

// Stats implements bucketStore, global scope first, tenants in name order.
// Reads project the refilled token level without writing anything back.
func (s *redisBucketStore) Stats(ctx context.Context, global, perTenant model.BucketSpec) ([]model.BucketView, error) {
	now := s.clk.Now()

	gView, err := s.readView(ctx, bucketKeyGlobal, "global", global, now)
	if err != nil {
		return nil, err
	}
	views := []model.BucketView{gView}

	var names []string
	iter := s.rdb.Scan(ctx, 0, bucketKeyTenantPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), bucketKeyTenantPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tenant buckets: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		v, err := s.readView(ctx, bucketKeyTenantPrefix+name, name, perTenant, now)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// PurgeIdle implements bucketStore. Bucket keys expire server-side via
// their TTL, so there is nothing to sweep here.
func (s *redisBucketStore) PurgeIdle(context.Context, time.Duration) (int, error) {
	return 0, nil
}

// readView reads one bucket hash, preferring the spec recorded in the hash
// over the fallback so registry overrides stay visible in stats.
func (s *redisBucketStore) readView(ctx context.Context, key, scope string, fallback model.BucketSpec, now time.Time) (model.BucketView, error) {
	vals, err := s.rdb.HMGet(ctx, key, "tokens", "ts", "cap", "rate").Result()
	if err != nil {
		return model.BucketView{}, fmt.Errorf("failed to read bucket %s: %w", key, err)
	}

	view := model.BucketView{
		Scope:      scope,
		Tokens:     float64(fallback.Capacity),
		Capacity:   fallback.Capacity,
		RefillRate: fallback.RefillRate,
	}
	if len(vals) != 4 || vals[0] == nil {
		return view, nil
	}

	if c, err := strconv.ParseFloat(hashField(vals[2]), 64); err == nil && c > 0 {
		view.Capacity = int(c)
	}
	if r, err := strconv.ParseFloat(hashField(vals[3]), 64); err == nil && r >= 0 {
		view.RefillRate = r
	}

	tokens, err := strconv.ParseFloat(hashField(vals[0]), 64)
	if err != nil {
		return model.BucketView{}, fmt.Errorf("failed to parse tokens in %s: %w", key, err)
	}
	tsMs, err := strconv.ParseFloat(hashField(vals[1]), 64)
	if err != nil {
		return model.BucketView{}, fmt.Errorf("failed to parse timestamp in %s: %w", key, err)
	}

	elapsed := (float64(now.UnixMilli()) - tsMs) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	tokens += elapsed * view.RefillRate
	if tokens > float64(view.Capacity) {
		tokens = float64(view.Capacity)
	}
	if tokens < 0 {
		tokens = 0
	}
	view.Tokens = tokens
	return view, nil
}

func hashField(v interface{}) string {
	s, _ := v.(string)
	return s
}

func scriptFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("unexpected script value %T", v)
	}
}
