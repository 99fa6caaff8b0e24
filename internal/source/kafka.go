package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"livetrail.dev/internal/geo"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/models"
)

const kafkaRetryDelay = time.Second

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  *slog.Logger
}

// messageReader is the subset of *kafka.Reader the source uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource keeps the newest fix published on a topic. Poll never blocks;
// Notify fires whenever a new message has been decoded.
type KafkaSource struct {
	reader  messageReader
	logger  *slog.Logger
	latest  atomic.Pointer[models.Fix]
	readErr atomic.Pointer[error]
	notify  chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

var (
	_ FixSource = (*KafkaSource)(nil)
	_ Notifier  = (*KafkaSource)(nil)
	_ Listener  = (*KafkaSource)(nil)
)

// kafkaFix is the message body produced by the GPS publishers.
type kafkaFix struct {
	Timestamp string   `json:"timestamp"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed"`
}

func NewKafkaSource(cfg KafkaConfig) *KafkaSource {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(slog.String("component", "kafka_source"))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		ErrorLogger:    kafka.LoggerFunc(func(msg string, args ...any) { logger.Warn(fmt.Sprintf(msg, args...)) }),
		CommitInterval: time.Second,
	})
	return newKafkaSource(reader, logger)
}

func newKafkaSource(reader messageReader, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{
		reader: reader,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the background reader. Calling it more than once is a no-op.
func (s *KafkaSource) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.readLoop(ctx)
	})
}

func (s *KafkaSource) readLoop(ctx context.Context) {
	defer close(s.done)
	logging.LogOperation(s.logger, "kafka_reader_started")

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logging.LogOperation(s.logger, "kafka_reader_stopped")
				return
			}
			wrapped := fmt.Errorf("%w: read message: %w", ErrTransient, err)
			s.readErr.Store(&wrapped)
			logging.LogWarn(s.logger, "kafka read failed", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(kafkaRetryDelay):
			}
			continue
		}
		s.readErr.Store(nil)

		fix, err := decodeKafkaFix(msg.Value)
		if err != nil {
			logging.LogWarn(s.logger, "skipping undecodable message", err,
				slog.Int64("offset", msg.Offset),
				slog.Int("partition", msg.Partition))
			continue
		}

		s.latest.Store(&fix)
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func decodeKafkaFix(b []byte) (models.Fix, error) {
	var raw kafkaFix
	if err := json.Unmarshal(b, &raw); err != nil {
		return models.Fix{}, err
	}

	fix := models.Fix{
		Coordinate: geo.Coordinate{Lat: math.NaN(), Lon: math.NaN()},
		Speed:      raw.Speed,
	}
	if raw.Latitude != nil {
		fix.Lat = *raw.Latitude
	}
	if raw.Longitude != nil {
		fix.Lon = *raw.Longitude
	}
	if ts, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
		fix.Timestamp = ts.UTC()
	}
	return fix, nil
}

// Poll returns the newest decoded fix, or the last read error if the reader
// has not recovered since.
func (s *KafkaSource) Poll(ctx context.Context) (*models.Fix, error) {
	if errp := s.readErr.Load(); errp != nil {
		return nil, *errp
	}
	latest := s.latest.Load()
	if latest == nil {
		return nil, nil
	}
	fix := *latest
	return &fix, nil
}

func (s *KafkaSource) Notify() <-chan struct{} {
	return s.notify
}

// Close stops the reader goroutine and closes the underlying reader.
func (s *KafkaSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}
