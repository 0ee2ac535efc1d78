package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Leganyst/consultation-slots/internal/config"
)

// Notifier сообщает подписчикам, что данные изменились. Само изменение
// не передаётся: подписчик перечитывает хранилище.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Bus: Notifier, на сигналы которого можно подписаться.
type Bus interface {
	Notifier
	// Listen возвращает канал сигналов; канал закрывается после отмены ctx.
	Listen(ctx context.Context) (<-chan struct{}, error)
}

// signal кладёт сигнал в канал без блокировки; несколько сигналов подряд схлопываются в один.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// RedisBus рассылает сигналы через Redis PUBLISH/SUBSCRIBE, чтобы
// все экземпляры сервиса видели изменения друг друга.
type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(ctx context.Context, cfg config.RedisConfig, channel string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBus{client: client, channel: channel}, nil
}

func (b *RedisBus) Notify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("publish change to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) Listen(ctx context.Context) (<-chan struct{}, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	// Ждём подтверждения подписки, иначе первые сигналы могут потеряться.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan struct{}, 1)
	msgs := ps.Channel()

	go func() {
		defer close(out)
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()

	return out, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

// LocalBus: шина внутри одного процесса.
type LocalBus struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[chan struct{}]struct{})}
}

func (b *LocalBus) Notify(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		signal(ch)
	}
	return nil
}

func (b *LocalBus) Listen(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}
