package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "STOREFRONT_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// replayDependencies: клиенты Kafka, которыми пользуется replayer.
type replayDependencies struct {
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
}

func (d replayDependencies) close() {
	if d.producer != nil {
		_ = d.producer.Close()
	}
	if d.consumer != nil {
		_ = d.consumer.Close()
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}

var newReplayDependencies = func(cfg config) (replayDependencies, error) {
	consumerConfig := kafka.NewConsumerConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return replayDependencies{}, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDependencies{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps := replayDependencies{client: client, consumer: saramaConsumerAdapter{consumer: rawConsumer}}

	// в dry-run producer не нужен
	if !cfg.execute {
		return deps, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewProducerConfig())
	if err != nil {
		deps.close()
		return replayDependencies{}, fmt.Errorf("create kafka producer: %w", err)
	}
	deps.producer = producer
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}
	fmt.Printf("dlq replay %s: processed=%d replayed=%d skipped=%d\n", summary.mode, summary.processed, summary.replayed, summary.skipped)
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}

	cfg.brokers = parseBrokers(brokersRaw)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) (replaySummary, error) {
	logger := log.WithFields(log.Fields{
		"component":    "dlq-reprocess",
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
	})
	logger.WithFields(log.Fields{
		"limit":       cfg.limit,
		"execute":     cfg.execute,
		"from_newest": cfg.fromNewest,
	}).Info("starting dlq replay")

	deps, err := newReplayDependencies(cfg)
	if err != nil {
		return replaySummary{}, err
	}
	defer deps.close()

	r := &replayer{cfg: cfg, deps: deps, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	return r.run(ctx)
}

// replaySummary: итог прохода по DLQ.
type replaySummary struct {
	mode      string
	processed int
	replayed  int
	skipped   int
}

func (s *replaySummary) add(other replaySummary) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ по партициям и возвращает сообщения в рабочий topic.
type replayer struct {
	cfg    config
	deps   replayDependencies
	logger *log.Entry
	now    func() time.Time
}

func (r *replayer) run(ctx context.Context) (replaySummary, error) {
	summary := replaySummary{mode: "dry-run"}
	if r.cfg.execute {
		summary.mode = "execute"
	}

	if r.deps.client == nil || r.deps.consumer == nil {
		return summary, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.deps.producer == nil {
		return summary, errors.New("producer is required in execute mode")
	}

	partitions, err := r.deps.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return summary, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.Warn("source topic has no partitions")
		return summary, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if summary.processed >= r.cfg.limit {
			break
		}
		stats, err := r.partition(ctx, partition, r.cfg.limit-summary.processed)
		summary.add(stats)
		if err != nil {
			return summary, err
		}
	}

	r.logger.WithFields(log.Fields{
		"mode":      summary.mode,
		"processed": summary.processed,
		"replayed":  summary.replayed,
		"skipped":   summary.skipped,
	}).Info("dlq replay finished")

	return summary, nil
}

func (r *replayer) partition(ctx context.Context, partition int32, limit int) (replaySummary, error) {
	var stats replaySummary
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := r.deps.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.deps.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if r.cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := r.deps.consumer.ConsumePartition(r.cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	// сообщения, пришедшие после старта, не трогаем
	endOffset := newest
	idleTimer := time.NewTimer(r.cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= endOffset {
				return stats, nil
			}
			idleTimer.Reset(r.cfg.idleTimeout)

			if err := r.handle(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= endOffset {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *replaySummary) error {
	stats.processed++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := kafka.ExtractReplay(msg.Value, r.cfg.targetTopic, r.now())
	if err != nil || !ok {
		stats.skipped++
		if err != nil {
			entry.WithError(err).Warn("skip unsupported dlq message")
		}
		return nil
	}

	if !r.cfg.execute {
		entry.WithFields(log.Fields{"target": replay.Topic, "key": replay.Key}).Info("dlq replay candidate")
		stats.replayed++
		return nil
	}

	if err := publishReplay(r.deps.producer, replay, r.now()); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	stats.replayed++
	return nil
}

// publishReplay отправляет сообщение со сброшенным счётчиком повторов.
func publishReplay(producer replayProducer, msg kafka.ReplayMessage, now time.Time) error {
	if producer == nil {
		return errors.New("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.StringEncoder(msg.Key),
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: now,
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderRetryCount), Value: []byte("0")},
		},
	})
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
