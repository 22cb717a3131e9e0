package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/telemetry"
)

const (
	keyPrefix       = "catalog:"
	derivedSetKey   = keyPrefix + "derived"
	globalGenKey    = keyPrefix + "gen"
	invalidateTries = 3
)

// Generation хранит снимок счётчиков инвалидации, взятый до чтения из хранилища.
// Заполнение кэша по снимку, который успел устареть, пропускается.
type Generation struct {
	key   string
	value int64
}

// Cache реализует кэш каталога. Записи только удаляются, но никогда не исправляются на месте.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New создаёт кэш поверх клиента Redis.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

func productKey(id string) string { return keyPrefix + "product:" + id }
func genKey(id string) string     { return keyPrefix + "product:" + id + ":gen" }

// ListKey строит ключ страницы листинга по параметрам запроса.
func ListKey(params ...any) string { return keyPrefix + "list:" + hashParams(params...) }

// SearchKey строит ключ страницы поиска по параметрам запроса.
func SearchKey(params ...any) string { return keyPrefix + "search:" + hashParams(params...) }

// CategoryCountsKey задаёт ключ агрегата по категориям.
const CategoryCountsKey = keyPrefix + "category-counts"

func hashParams(params ...any) string {
	h := sha256.New()
	for _, p := range params {
		fmt.Fprintf(h, "%v\x00", p)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// GetProduct читает снимок товара. Промах не является ошибкой.
func (c *Cache) GetProduct(ctx context.Context, id string) (*model.Product, bool, error) {
	var p model.Product
	ok, err := c.get(ctx, productKey(id), &p)
	c.metrics.CacheLookup(ctx, "product", ok)
	if err != nil || !ok {
		return nil, false, err
	}
	return &p, true, nil
}

// ProductGeneration снимает счётчик инвалидации товара.
func (c *Cache) ProductGeneration(ctx context.Context, id string) (Generation, error) {
	return c.generation(ctx, genKey(id))
}

// DerivedGeneration снимает общий счётчик инвалидации для листингов, поиска и агрегатов.
func (c *Cache) DerivedGeneration(ctx context.Context) (Generation, error) {
	return c.generation(ctx, globalGenKey)
}

func (c *Cache) generation(ctx context.Context, key string) (Generation, error) {
	v, err := c.client.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Generation{}, fmt.Errorf("read generation: %w", err)
	}
	return Generation{key: key, value: v}, nil
}

// FillProduct кладёт снимок товара, если с момента снятия gen товар не инвалидировали.
func (c *Cache) FillProduct(ctx context.Context, p *model.Product, gen Generation) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshal product: %w", err)
	}

	return c.fillIfCurrent(ctx, gen, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, productKey(p.ID), data, c.ttl)
	})
}

// GetDerived читает производную запись (листинг, поиск, агрегат) в dst.
func (c *Cache) GetDerived(ctx context.Context, key string, dst any) (bool, error) {
	ok, err := c.get(ctx, key, dst)
	c.metrics.CacheLookup(ctx, "derived", ok)
	return ok, err
}

// FillDerived кладёт производную запись (листинг, поиск, агрегат) и регистрирует
// её в общем наборе производных ключей. Состав таких записей может измениться
// от любой мутации товара, поэтому набор целиком сбрасывается при каждой инвалидации.
func (c *Cache) FillDerived(ctx context.Context, key string, v any, gen Generation) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal derived entry: %w", err)
	}

	return c.fillIfCurrent(ctx, gen, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, derivedSetKey, key)
	})
}

func (c *Cache) fillIfCurrent(ctx context.Context, gen Generation, write func(pipe redis.Pipeliner)) (bool, error) {
	stale := false
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gen.key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen.value {
			stale = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, gen.key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fill cache: %w", err)
	}
	return !stale, nil
}

// Invalidate удаляет записи товаров и все производные записи. Удаления
// идемпотентны, поэтому повторяются при сбоях.
func (c *Cache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.retryInvalidate(ctx, ids)
}

// InvalidateDerived сбрасывает только производные записи. Вызывается, когда
// поисковый индекс применил изменение: страницы поиска, собранные до этого,
// устарели, хотя карточки товаров остались верными.
func (c *Cache) InvalidateDerived(ctx context.Context) error {
	return c.retryInvalidate(ctx, nil)
}

func (c *Cache) retryInvalidate(ctx context.Context, ids []string) error {
	b := retry.WithMaxRetries(invalidateTries, retry.NewExponential(20*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := c.invalidate(ctx, ids); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *Cache) invalidate(ctx context.Context, ids []string) error {
	// Счётчики растут раньше чтения набора производных ключей: заполнение,
	// начатое до этого момента, либо не пройдёт WATCH, либо уже попало в набор
	// и будет удалено ниже.
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, genKey(id))
		}
		pipe.Incr(ctx, globalGenKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bump generations: %w", err)
	}

	derived, err := c.client.SMembers(ctx, derivedSetKey).Result()
	if err != nil {
		return fmt.Errorf("read derived keys: %w", err)
	}

	keys := make([]string, 0, len(ids)+len(derived))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	keys = append(keys, derived...)
	if len(keys) == 0 {
		return nil
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		if len(derived) > 0 {
			members := make([]any, len(derived))
			for i, k := range derived {
				members[i] = k
			}
			pipe.SRem(ctx, derivedSetKey, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		// Битая запись равносильна промаху; удаляем её, чтобы она не жила до TTL.
		c.logger.Warn("drop undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}
