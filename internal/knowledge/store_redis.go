package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per chunk plus sets of chunk ids and content
// hashes, so the CLI and the server share a knowledge base.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "kb"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) idsKey() string { return s.prefix + ":chunks" }
func (s *RedisStore) hashesKey() string { return s.prefix + ":hashes" }
func (s *RedisStore) chunkKey(id string) string { return s.prefix + ":chunk:" + id }

func (s *RedisStore) Put(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, c := range chunks {
			fields := map[string]any{
				"doc_id":       c.DocID,
				"source":       c.Source,
				"title":        c.Title,
				"url":          c.URL,
				"text":         c.Text,
				"hash":         c.Hash,
				"index":        c.Index,
				"published_at": c.PublishedAt,
				"ingested_at":  c.IngestedAt.UTC().Format(time.RFC3339Nano),
			}
			if len(c.Vector) > 0 {
				vec, err := json.Marshal(c.Vector)
				if err != nil {
					return err
				}
				fields["vector"] = string(vec)
			}
			p.HSet(ctx, s.chunkKey(c.ID), fields)
			p.SAdd(ctx, s.idsKey(), c.ID)
			p.SAdd(ctx, s.hashesKey(), c.Hash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put chunks: %w", err)
	}
	return nil
}

func (s *RedisStore) HasHash(ctx context.Context, hash string) (bool, error) {
	return s.client.SIsMember(ctx, s.hashesKey(), hash).Result()
}

func (s *RedisStore) All(ctx context.Context) ([]Chunk, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list chunks: %w", err)
	}
	sort.Strings(ids)
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.chunkKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load chunks: %w", err)
	}
	out := make([]Chunk, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		c := Chunk{
			ID:          ids[i],
			DocID:       m["doc_id"],
			Source:      m["source"],
			Title:       m["title"],
			URL:         m["url"],
			Text:        m["text"],
			Hash:        m["hash"],
			PublishedAt: m["published_at"],
		}
		c.Index, _ = strconv.Atoi(m["index"])
		c.IngestedAt, _ = time.Parse(time.RFC3339Nano, m["ingested_at"])
		if v := m["vector"]; v != "" {
			if err := json.Unmarshal([]byte(v), &c.Vector); err != nil {
				return nil, fmt.Errorf("decode vector for %s: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return fmt.Errorf("redis list chunks: %w", err)
	}
	keys := []string{s.idsKey(), s.hashesKey()}
	for _, id := range ids {
		keys = append(keys, s.chunkKey(id))
	}
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis reset: %w", err)
		}
	}
	return nil
}
