// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"innovacollab/internal/config"
	"innovacollab/pkg/log"
	"innovacollab/pkg/tasks"
)

const maxAttempts = 3

// retryDelay 为两次重试之间的基础等待时间，按尝试次数线性增长。
var retryDelay = 2 * time.Second

// TaskProcessor 处理一条资料任务，使消费者与具体流水线解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.MaterialProcessingTask) error
}

// Producer 发送资料处理任务。
type Producer struct {
	writer *kafka.Writer
}

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
	}}
}

// ProduceMaterialTask 以资料 ID 作为消息 key，保证同一资料的任务有序。
func (p *Producer) ProduceMaterialTask(ctx context.Context, task tasks.MaterialProcessingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("material-%d", task.MaterialID)),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 消费资料任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		var task tasks.MaterialProcessingTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			commit(ctx, r, m)
			continue
		}

		handle(ctx, processor, rdb, task, m.Offset)
		if ctx.Err() != nil {
			return
		}
		commit(ctx, r, m)
	}
}

// handle 处理单条任务并在失败时原地重试。尝试次数记录在 Redis 中，
// 进程重启后重新投递的消息会继续累计，达到上限后放弃。
func handle(ctx context.Context, processor TaskProcessor, rdb *redis.Client, task tasks.MaterialProcessingTask, offset int64) {
	attemptsKey := fmt.Sprintf("kafka:attempts:material:%d:%d", task.MaterialID, offset)
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("资料任务处理成功: material=%d", task.MaterialID)
			_ = rdb.Del(ctx, attemptsKey).Err()
			return
		}
		log.Errorf("处理资料任务失败: material=%d, error: %v", task.MaterialID, err)

		attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
		if incErr == nil {
			_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		}
		if incErr != nil || attempts >= maxAttempts {
			log.Errorf("资料任务多次失败，放弃: material=%d, attempts=%d", task.MaterialID, attempts)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempts) * retryDelay):
		}
	}
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
