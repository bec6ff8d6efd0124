package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/livechat/pkg/auth"
	"github.com/mahaj/livechat/pkg/model"
)

var ErrBadCredentials = errors.New("bad credentials")

// Store keeps accounts and revoked token ids in Redis.
type Store struct {
	redis *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{redis: client}
}

func accountKey(uid string) string {
	return "account:" + uid
}

func revokedKey(tokenID string) string {
	return "revoked:" + tokenID
}

// SignIn checks uid/password against the stored account. The first sign-in
// for an unknown uid registers it. A non-empty avatar replaces the stored one.
func (s *Store) SignIn(ctx context.Context, uid, password, avatar string) (model.Principal, error) {
	if uid == "" || password == "" {
		return model.Principal{}, ErrBadCredentials
	}

	key := accountKey(uid)

	hash, err := s.redis.HGet(ctx, key, "password").Result()
	switch {
	case errors.Is(err, redis.Nil):
		hash, err = auth.HashPassword(password)
		if err != nil {
			return model.Principal{}, fmt.Errorf("hash password: %w", err)
		}
		created, err := s.redis.HSetNX(ctx, key, "password", hash).Result()
		if err != nil {
			return model.Principal{}, fmt.Errorf("create account %s: %w", uid, err)
		}
		if !created {
			// Lost a registration race; check against the winner.
			return s.SignIn(ctx, uid, password, avatar)
		}
	case err != nil:
		return model.Principal{}, fmt.Errorf("load account %s: %w", uid, err)
	default:
		if err := auth.CheckPassword(hash, password); err != nil {
			if errors.Is(err, auth.ErrPasswordMismatch) {
				return model.Principal{}, ErrBadCredentials
			}
			return model.Principal{}, err
		}
	}

	if avatar != "" {
		if err := s.redis.HSet(ctx, key, "avatar", avatar).Err(); err != nil {
			return model.Principal{}, fmt.Errorf("update avatar %s: %w", uid, err)
		}
	} else {
		avatar, err = s.redis.HGet(ctx, key, "avatar").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return model.Principal{}, fmt.Errorf("load avatar %s: %w", uid, err)
		}
	}

	return model.Principal{UID: uid, PhotoURL: avatar}, nil
}

// Revoke marks tokenID as revoked until the token would have expired anyway.
func (s *Store) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.redis.Set(ctx, revokedKey(tokenID), 1, ttl).Err()
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
