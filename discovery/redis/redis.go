package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	goredis "github.com/redis/go-redis/v9"
)

// Config for the Redis-backed Locator. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: DISCOVERY_KEY_PREFIX
	KeyPrefix string `env:"DISCOVERY_KEY_PREFIX,default=registry:discovery:"`
}

var _ discovery.Locator = (*Locator)(nil)

type Locator struct {
	client    *goredis.Client
	keyPrefix string
	stamp     discovery.Stamper
}

func New(cfg Config) (*Locator, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "registry:discovery:"
	}
	return &Locator{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Locator using envdecode to populate Config.
func NewFromEnv() (*Locator, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client. Registrations stay in Redis.
func (l *Locator) Close() error { return l.client.Close() }

func (l *Locator) regKey(id string) string      { return l.keyPrefix + "reg:" + id }
func (l *Locator) ifaceKey(iface string) string { return l.keyPrefix + "iface:" + iface }

func (l *Locator) Register(ctx context.Context, svc discovery.ServiceInfo, loc discovery.Location) (string, error) {
	if err := svc.Validate(); err != nil {
		return "", err
	}
	if err := loc.Validate(); err != nil {
		return "", err
	}
	reg := discovery.Registration{ID: uuid.NewString(), Service: svc, Location: loc, RegisteredAt: l.stamp.Now()}
	data, err := json.Marshal(reg)
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}
	_, err = l.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, l.regKey(reg.ID), data, 0)
		for _, iface := range svc.ProvidedInterfaces {
			p.SAdd(ctx, l.ifaceKey(iface), reg.ID)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis register: %w", err)
	}
	return reg.ID, nil
}

func (l *Locator) Unregister(ctx context.Context, id string) error {
	data, err := l.client.Get(ctx, l.regKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%w: %s", discovery.ErrRegistrationNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("redis unregister: %w", err)
	}
	var reg discovery.Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("decode registration %s: %w", id, err)
	}

	var del *goredis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		del = p.Del(ctx, l.regKey(id))
		for _, iface := range reg.Service.ProvidedInterfaces {
			p.SRem(ctx, l.ifaceKey(iface), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis unregister: %w", err)
	}
	// A concurrent Unregister may have won between GET and DEL.
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", discovery.ErrRegistrationNotFound, id)
	}
	return nil
}

func (l *Locator) Resolve(ctx context.Context, iface, serviceClass string) (discovery.Location, error) {
	ids, err := l.client.SMembers(ctx, l.ifaceKey(iface)).Result()
	if err != nil {
		return discovery.Location{}, fmt.Errorf("redis resolve: %w", err)
	}
	if len(ids) == 0 {
		return discovery.Location{}, discovery.NotFound(iface, serviceClass)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.regKey(id)
	}
	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return discovery.Location{}, fmt.Errorf("redis resolve: %w", err)
	}

	regs := make([]discovery.Registration, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var r discovery.Registration
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		regs = append(regs, r)
	}
	if r, ok := discovery.Match(regs, iface, serviceClass); ok {
		return r.Location, nil
	}
	return discovery.Location{}, discovery.NotFound(iface, serviceClass)
}
