package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/stateful-consumer-probe/internal/msg"
	"github.com/ismaiel54/stateful-consumer-probe/internal/txeventq"
	"go.uber.org/zap"
)

// UnknownInstance is recorded when the proxy creates an instance without returning its id
const UnknownInstance = "unknown_instance"

// ConsumedBy tags records fetched through the session
const ConsumedBy = "persistent_consumer"

// Upstream is the part of the REST proxy the session drives
type Upstream interface {
	CreateConsumerGroup(ctx context.Context, group, topic string) error
	CreateConsumerInstance(ctx context.Context, group string) (string, error)
	Subscribe(ctx context.Context, group, instance string, topics []string) error
	FetchRecords(ctx context.Context, group, instance string) ([]txeventq.Record, error)
	DeleteConsumerInstance(ctx context.Context, group, instance string) error
}

// Recorder receives session events for metrics
type Recorder interface {
	ObserveInit(err error)
	ObservePoll(records int, err error)
	SetStored(n int)
}

// Config holds session settings
type Config struct {
	GroupID           string
	Topic             string
	MaxStoredMessages int
}

// Status is a snapshot of the session identifiers and counters
type Status struct {
	ObjectID        string `json:"object_id"`
	ConsumerGroupID string `json:"consumer_group_id"`
	InstanceID      string `json:"instance_id"`
	Initialized     bool   `json:"initialized"`
	TotalConsumed   int    `json:"total_consumed"`
	TotalReceived   int64  `json:"total_received"`
	Polls           int64  `json:"polls"`
	InitCount       int64  `json:"init_count"`
	LastPoll        int64  `json:"last_poll"`
	CreatedAt       int64  `json:"created_at"`
}

// Session is one consumer group/instance kept alive across HTTP requests.
// Every operation holds the session lock, so concurrent requests are served
// one at a time.
type Session struct {
	mu sync.Mutex

	api      Upstream
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	objectID    string
	createdAt   time.Time
	instanceID  string
	initialized bool
	lastPoll    time.Time
	polls       int64
	initCount   int64
	history     *History
}

// NewSession creates a session. No upstream call is made until the first
// Initialize or Poll.
func NewSession(api Upstream, cfg Config, logger *zap.Logger) *Session {
	s := &Session{
		api:     api,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		history: NewHistory(cfg.MaxStoredMessages),
	}
	s.createdAt = s.now()
	s.objectID = fmt.Sprintf("obj_%d_%s", s.createdAt.UnixMilli(), uuid.NewString()[:8])

	logger.Info("created persistent consumer",
		zap.String("object_id", s.objectID),
		zap.String("topic", cfg.Topic),
		zap.String("consumer_group", cfg.GroupID),
		zap.Int("max_stored_messages", s.history.Cap()),
	)
	return s
}

// SetRecorder attaches a metrics recorder
func (s *Session) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// ObjectID identifies this in-process session object
func (s *Session) ObjectID() string {
	return s.objectID
}

// Initialize ensures the consumer group, creates an instance and subscribes it
// to the topic. It is a no-op once the session is initialized.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

// Reinitialize drops the current instance and initializes from scratch.
// Stored history is kept.
func (s *Session) Reinitialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseInstanceLocked(ctx)
	s.initialized = false

	return s.initializeLocked(ctx)
}

// releaseInstanceLocked best-effort deletes the current upstream instance and
// forgets its id.
func (s *Session) releaseInstanceLocked(ctx context.Context) {
	if s.instanceID != "" && s.instanceID != UnknownInstance {
		if err := s.api.DeleteConsumerInstance(ctx, s.cfg.GroupID, s.instanceID); err != nil {
			s.logger.Warn("failed to delete consumer instance, continuing",
				zap.String("instance_id", s.instanceID),
				zap.Error(err),
			)
		}
	}
	s.instanceID = ""
}

func (s *Session) initializeLocked(ctx context.Context) (err error) {
	if s.initialized {
		s.logger.Debug("consumer already initialized", zap.String("object_id", s.objectID))
		return nil
	}

	s.initCount++
	defer func() {
		if s.recorder != nil {
			s.recorder.ObserveInit(err)
		}
	}()

	group := s.cfg.GroupID
	s.logger.Info("initializing persistent consumer",
		zap.String("object_id", s.objectID),
		zap.String("consumer_group", group),
		zap.Int64("attempt", s.initCount),
	)

	if err := s.api.CreateConsumerGroup(ctx, group, s.cfg.Topic); err != nil {
		if !txeventq.IsConflict(err) {
			s.logger.Error("consumer group creation failed", zap.String("consumer_group", group), zap.Error(err))
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		s.logger.Info("consumer group already exists", zap.String("consumer_group", group))
	}

	instanceID, err := s.api.CreateConsumerInstance(ctx, group)
	if err != nil {
		s.logger.Error("consumer instance creation failed", zap.String("consumer_group", group), zap.Error(err))
		return fmt.Errorf("failed to create consumer instance: %w", err)
	}
	if instanceID == "" {
		instanceID = UnknownInstance
	}
	s.instanceID = instanceID

	if err := s.api.Subscribe(ctx, group, instanceID, []string{s.cfg.Topic}); err != nil {
		if !txeventq.IsConflict(err) {
			s.logger.Error("subscription failed",
				zap.String("instance_id", instanceID),
				zap.String("topic", s.cfg.Topic),
				zap.Error(err),
			)
			s.releaseInstanceLocked(ctx)
			return fmt.Errorf("failed to subscribe to %s: %w", s.cfg.Topic, err)
		}
		s.logger.Info("subscription already exists", zap.String("instance_id", instanceID))
	}

	s.initialized = true
	s.logger.Info("persistent consumer initialized",
		zap.String("object_id", s.objectID),
		zap.String("instance_id", instanceID),
	)
	return nil
}

// Poll fetches pending records, initializing first if needed. New records are
// returned and appended to the bounded history.
func (s *Session) Poll(ctx context.Context) (records []msg.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		s.logger.Info("consumer not initialized, initializing before poll", zap.String("object_id", s.objectID))
		if err := s.initializeLocked(ctx); err != nil {
			return nil, err
		}
	}

	defer func() {
		if s.recorder != nil {
			s.recorder.ObservePoll(len(records), err)
			s.recorder.SetStored(s.history.Len())
		}
	}()

	now := s.now()
	var sinceLast time.Duration
	if !s.lastPoll.IsZero() {
		sinceLast = now.Sub(s.lastPoll)
	}
	s.logger.Debug("polling messages",
		zap.String("object_id", s.objectID),
		zap.String("instance_id", s.instanceID),
		zap.Duration("since_last_poll", sinceLast),
	)

	fetched, err := s.api.FetchRecords(ctx, s.cfg.GroupID, s.instanceID)
	if err != nil {
		s.logger.Warn("persistent consumer poll failed", zap.Error(err))
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	s.lastPoll = now
	s.polls++

	records = make([]msg.Record, 0, len(fetched))
	for _, rec := range fetched {
		data, err := decodeValue(rec.Value)
		if err != nil {
			if !errors.Is(err, errEmptyValue) {
				s.logger.Warn("failed to parse message", zap.Error(err))
			}
			continue
		}
		records = append(records, s.toRecord(rec, data, now))
	}
	s.history.Add(records...)

	if len(records) > 0 {
		for _, r := range records {
			ev := r.Event()
			s.logger.Info("consumed message",
				zap.String("runtime", ev.Runtime),
				zap.String("type", ev.Type),
				zap.Int32("partition", r.Partition),
				zap.Int64("offset", r.Offset),
			)
		}
	} else {
		s.logger.Debug("no new messages in poll")
	}

	return records, nil
}

func (s *Session) toRecord(rec txeventq.Record, data []byte, now time.Time) msg.Record {
	out := msg.Record{
		Topic:      rec.Topic,
		Offset:     -1,
		Key:        decodeKey(rec.Key),
		Data:       data,
		ConsumedBy: ConsumedBy,
		ConsumedAt: now.Unix(),
		InstanceID: s.instanceID,
	}
	if out.Topic == "" {
		out.Topic = s.cfg.Topic
	}
	if rec.Partition != nil {
		out.Partition = *rec.Partition
	}
	if rec.Offset != nil {
		out.Offset = *rec.Offset
	}
	return out
}

// Status returns the current identifiers and counters
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastPoll int64
	if !s.lastPoll.IsZero() {
		lastPoll = s.lastPoll.Unix()
	}
	return Status{
		ObjectID:        s.objectID,
		ConsumerGroupID: s.cfg.GroupID,
		InstanceID:      s.instanceID,
		Initialized:     s.initialized,
		TotalConsumed:   s.history.Len(),
		TotalReceived:   s.history.Total(),
		Polls:           s.polls,
		InitCount:       s.initCount,
		LastPoll:        lastPoll,
		CreatedAt:       s.createdAt.Unix(),
	}
}

// Recent returns the newest n stored records, oldest first
func (s *Session) Recent(n int) []msg.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Last(n)
}
