package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/internal/common/redisx"
)

// RedisStorage implements Store on a redis UniversalClient.
//
// Key layout under prefix:
//
//	client:{id}         JSON client
//	user:{id}           JSON user
//	code:{code}         hash {data, consumed, exp}, PEXPIREAT exp
//	codes:exp           zset code -> exp ms
//	token:{access}      JSON token
//	tokens:user:{id}    set of access tokens
//	tokens:client:{id}  set of access tokens
//	tokens:exp          zset access token -> exp ms
type RedisStorage struct {
	logger *zap.Logger
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStorage)(nil)

// consumeScript flips consumed on a single code hash.
// Returns {status, data}; status is OK, NOT_FOUND, CONSUMED or EXPIRED.
var consumeScript = redis.NewScript(`
local data = redis.call('HGET', KEYS[1], 'data')
if not data then
  return {'NOT_FOUND'}
end
if redis.call('HGET', KEYS[1], 'consumed') == '1' then
  return {'CONSUMED', data}
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'exp'))
if exp <= tonumber(ARGV[1]) then
  return {'EXPIRED', data}
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return {'OK', data}
`)

// NewRedisStorage wraps an existing client. Closing the store closes the client.
func NewRedisStorage(logger *zap.Logger, client redis.UniversalClient, prefix string) *RedisStorage {
	return &RedisStorage{
		logger: logger.Named("auth.store.redis"),
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStorage) key(parts ...string) string {
	return redisx.Key(s.prefix, parts...)
}

func (s *RedisStorage) getJSON(ctx context.Context, key string, out any, notFound error) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return notFound
		}
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *RedisStorage) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	if err := s.getJSON(ctx, s.key("client", clientID), &c, errorx.ErrClientNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RedisStorage) CreateClient(ctx context.Context, client *Client) error {
	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now
	data, err := json.Marshal(client)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key("client", client.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errorx.ErrClientAlreadyExists
	}
	return nil
}

func (s *RedisStorage) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := s.getJSON(ctx, s.key("user", userID), &u, errorx.ErrUserNotFound); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *RedisStorage) CreateUser(ctx context.Context, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("user", user.ID), data, 0).Err()
}

func (s *RedisStorage) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	data, err := json.Marshal(code)
	if err != nil {
		return err
	}

	key := s.key("code", code.Code)
	exp := code.ExpiresAt.UnixMilli()
	consumed := "0"
	if code.Consumed {
		consumed = "1"
	}
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "data", data, "consumed", consumed, "exp", exp)
		p.PExpireAt(ctx, key, code.ExpiresAt)
		p.ZAdd(ctx, s.key("codes", "exp"), redis.Z{Score: float64(exp), Member: code.Code})
		return nil
	})
	return err
}

func (s *RedisStorage) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	vals, err := s.client.HMGet(ctx, s.key("code", code), "data", "consumed").Result()
	if err != nil {
		return nil, err
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, errorx.ErrAuthorizationCodeNotFound
	}
	var c AuthorizationCode
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	c.Consumed = vals[1] == "1"
	return &c, nil
}

func (s *RedisStorage) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (*AuthorizationCode, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key("code", code)}, now.UnixMilli()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	if len(res) == 0 || res[0] == "NOT_FOUND" {
		return nil, errorx.ErrAuthorizationCodeNotFound
	}

	var c AuthorizationCode
	if err := json.Unmarshal([]byte(res[1]), &c); err != nil {
		return nil, err
	}
	switch res[0] {
	case "OK":
		c.Consumed = true
		return &c, nil
	case "CONSUMED":
		c.Consumed = true
		return &c, errorx.ErrAuthorizationCodeConsumed
	case "EXPIRED":
		return &c, errorx.ErrAuthorizationCodeExpired
	default:
		return nil, fmt.Errorf("unexpected consume status %q", res[0])
	}
}

func (s *RedisStorage) DeleteAuthorizationCode(ctx context.Context, code string) error {
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key("code", code))
		p.ZRem(ctx, s.key("codes", "exp"), code)
		return nil
	})
	return err
}

func (s *RedisStorage) SaveToken(ctx context.Context, token *Token) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("token", token.AccessToken), data, 0)
		p.SAdd(ctx, s.key("tokens", "user", token.UserID), token.AccessToken)
		p.SAdd(ctx, s.key("tokens", "client", token.ClientID), token.AccessToken)
		p.ZAdd(ctx, s.key("tokens", "exp"), redis.Z{Score: float64(token.ExpiresAt.UnixMilli()), Member: token.AccessToken})
		return nil
	})
	return err
}

func (s *RedisStorage) GetToken(ctx context.Context, accessToken string) (*Token, error) {
	var t Token
	if err := s.getJSON(ctx, s.key("token", accessToken), &t, errorx.ErrTokenNotFound); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTokenExpiry rewrites the record only while it still exists, so a
// concurrent revoke is never undone. Concurrent extends of one token are
// last-writer-wins.
func (s *RedisStorage) UpdateTokenExpiry(ctx context.Context, accessToken string, expiresAt time.Time) error {
	t, err := s.GetToken(ctx, accessToken)
	if err != nil {
		return err
	}
	t.ExpiresAt = expiresAt
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	// SET XX keeps the check and the write in one command on a single key,
	// which also holds in cluster mode where the indexes live in other slots
	ok, err := s.client.SetXX(ctx, s.key("token", accessToken), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errorx.ErrTokenNotFound
	}
	// a delete landing here leaves a dangling zset member that cleanup drains
	return s.client.ZAdd(ctx, s.key("tokens", "exp"), redis.Z{Score: float64(expiresAt.UnixMilli()), Member: accessToken}).Err()
}

func (s *RedisStorage) DeleteToken(ctx context.Context, accessToken string) error {
	t, err := s.GetToken(ctx, accessToken)
	if errors.Is(err, errorx.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.deleteTokens(ctx, []*Token{t})
}

func (s *RedisStorage) DeleteTokensByUserID(ctx context.Context, userID string) (int, error) {
	return s.deleteIndexed(ctx, s.key("tokens", "user", userID), nil)
}

func (s *RedisStorage) DeleteTokensByClientID(ctx context.Context, clientID string) (int, error) {
	return s.deleteIndexed(ctx, s.key("tokens", "client", clientID), nil)
}

func (s *RedisStorage) DeleteTokensByUserAndClient(ctx context.Context, userID, clientID string) (int, error) {
	return s.deleteIndexed(ctx, s.key("tokens", "user", userID), func(t *Token) bool {
		return t.ClientID == clientID
	})
}

func (s *RedisStorage) DeleteExpiredTokens(ctx context.Context, before time.Time, limit int) (int, error) {
	members, err := s.expiredMembers(ctx, s.key("tokens", "exp"), before, limit)
	if err != nil || len(members) == 0 {
		return 0, err
	}
	tokens, err := s.loadTokens(ctx, members)
	if err != nil {
		return 0, err
	}
	if err := s.deleteTokens(ctx, tokens); err != nil {
		return 0, err
	}
	// index entries whose record is already gone count too, so a batch loop
	// keeps draining the index
	if err := s.client.ZRem(ctx, s.key("tokens", "exp"), toAny(members)...).Err(); err != nil {
		return 0, err
	}
	return len(members), nil
}

func (s *RedisStorage) DeleteExpiredCodes(ctx context.Context, before time.Time, limit int) (int, error) {
	members, err := s.expiredMembers(ctx, s.key("codes", "exp"), before, limit)
	if err != nil || len(members) == 0 {
		return 0, err
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.key("code", m)
	}
	var removed *redis.IntCmd
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k)
		}
		removed = p.ZRem(ctx, s.key("codes", "exp"), toAny(members)...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed.Val()), nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) expiredMembers(ctx context.Context, zkey string, before time.Time, limit int) ([]string, error) {
	// expires_at < before, so the upper bound is exclusive
	return s.client.ZRangeByScore(ctx, zkey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
}

func (s *RedisStorage) deleteIndexed(ctx context.Context, setKey string, match func(*Token) bool) (int, error) {
	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil || len(members) == 0 {
		return 0, err
	}
	tokens, err := s.loadTokens(ctx, members)
	if err != nil {
		return 0, err
	}
	loaded := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		loaded[t.AccessToken] = true
	}
	if match != nil {
		kept := tokens[:0]
		for _, t := range tokens {
			if match(t) {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}
	if err := s.deleteTokens(ctx, tokens); err != nil {
		return 0, err
	}
	// only members seen above leave the set; a token saved meanwhile stays indexed
	if stale := staleMembers(members, loaded, match == nil); len(stale) > 0 {
		if err := s.client.SRem(ctx, setKey, toAny(stale)...).Err(); err != nil {
			return 0, err
		}
	}
	return len(tokens), nil
}

// staleMembers returns the snapshot members whose record was missing, or the
// whole snapshot when every member was deleted
func staleMembers(members []string, loaded map[string]bool, all bool) []string {
	if all {
		return members
	}
	var out []string
	for _, m := range members {
		if !loaded[m] {
			out = append(out, m)
		}
	}
	return out
}

// loadTokens fetches token records one key at a time so it works in cluster mode
func (s *RedisStorage) loadTokens(ctx context.Context, accessTokens []string) ([]*Token, error) {
	cmds := make([]*redis.StringCmd, len(accessTokens))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, at := range accessTokens {
			cmds[i] = p.Get(ctx, s.key("token", at))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]*Token, 0, len(cmds))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var t Token
		if err := json.Unmarshal(data, &t); err != nil {
			s.logger.Warn("dropping undecodable token record",
				zap.String("key", s.key("token", accessTokens[i])), zap.Error(err))
			t = Token{AccessToken: accessTokens[i]}
		}
		out = append(out, &t)
	}
	return out, nil
}

func (s *RedisStorage) deleteTokens(ctx context.Context, tokens []*Token) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range tokens {
			p.Del(ctx, s.key("token", t.AccessToken))
			p.ZRem(ctx, s.key("tokens", "exp"), t.AccessToken)
			if t.UserID != "" {
				p.SRem(ctx, s.key("tokens", "user", t.UserID), t.AccessToken)
			}
			if t.ClientID != "" {
				p.SRem(ctx, s.key("tokens", "client", t.ClientID), t.AccessToken)
			}
		}
		return nil
	})
	return err
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
