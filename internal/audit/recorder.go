package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"finnect-auth/internal/bucketing"
	"finnect-auth/internal/client"
	"finnect-auth/internal/config"
	"finnect-auth/internal/models"
	"finnect-auth/internal/util"
)

const insertEventQuery = `
	INSERT INTO security_events
		(event_bucket, account_id, event_date, event_time, event_type, email, ip_address, details)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Recorder fans security events out to Kafka, ClickHouse and
// Elasticsearch. Every sink is optional and best effort: a sink
// failure is logged and never surfaces to the caller.
type Recorder struct {
	producer    *client.KafkaProducer
	clickhouse  *client.ClickHouseClient
	es          *client.ESClient
	bucketing   *bucketing.BucketingManager
	topic       string
	index       string
	sinkTimeout time.Duration
}

func NewRecorder(
	cfg *config.Config,
	producer *client.KafkaProducer,
	clickhouse *client.ClickHouseClient,
	es *client.ESClient,
	bucketingMgr *bucketing.BucketingManager,
) *Recorder {
	return &Recorder{
		producer:    producer,
		clickhouse:  clickhouse,
		es:          es,
		bucketing:   bucketingMgr,
		topic:       cfg.Kafka.SecurityEventTopic,
		index:       cfg.Elasticsearch.SecurityIndex,
		sinkTimeout: 5 * time.Second,
	}
}

// Record completes the event's bucket and timestamps and delivers it
// to all configured sinks in parallel.
func (r *Recorder) Record(ctx context.Context, event *models.SecurityEvent) {
	now := time.Now().UTC()
	if event.EventTime.IsZero() {
		event.EventTime = now
	}
	if event.EventDate == "" {
		event.EventDate = r.bucketing.GetDateBucket()
	}
	event.EventBucket = r.bucketing.GetEventBucket(event.Email)

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to marshal security event",
			util.ErrorField(err),
			util.String("event_type", event.EventType),
		)
		return
	}

	ctx, cancel := context.WithTimeout(withoutCancel(ctx), r.sinkTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if r.producer != nil {
		g.Go(func() error {
			if err := r.publishKafka(ctx, event, payload); err != nil {
				util.Warn("kafka security event publish failed",
					util.ErrorField(err),
					util.String("event_type", event.EventType),
				)
			}
			return nil
		})
	}

	if r.clickhouse != nil {
		g.Go(func() error {
			if err := r.insertClickhouse(ctx, event); err != nil {
				util.Warn("clickhouse security event insert failed",
					util.ErrorField(err),
					util.String("event_type", event.EventType),
				)
			}
			return nil
		})
	}

	if r.es != nil {
		g.Go(func() error {
			if err := r.indexElasticsearch(event, payload); err != nil {
				util.Warn("elasticsearch security event index failed",
					util.ErrorField(err),
					util.String("event_type", event.EventType),
				)
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (r *Recorder) publishKafka(ctx context.Context, event *models.SecurityEvent, payload []byte) error {
	key := []byte(event.AccountID)
	headers := map[string]string{
		"event_type": event.EventType,
	}
	return r.producer.ProduceMessage(ctx, r.topic, key, payload, headers)
}

func (r *Recorder) insertClickhouse(ctx context.Context, event *models.SecurityEvent) error {
	var ipStr string
	if event.IPAddress != nil {
		ipStr = event.IPAddress.String()
	}
	return r.clickhouse.Exec(ctx, insertEventQuery,
		event.EventBucket,
		event.AccountID,
		event.EventDate,
		event.EventTime,
		event.EventType,
		event.Email,
		ipStr,
		event.Details,
	)
}

func (r *Recorder) indexElasticsearch(event *models.SecurityEvent, payload []byte) error {
	docID := fmt.Sprintf("%s-%d", uuid.New().String(), event.EventTime.UnixNano())

	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}

	res, err := r.es.IndexDocument(r.index, docID, doc)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.String())
	}
	return nil
}

// withoutCancel detaches the sink work from the request context so an
// aborted request still produces its audit trail.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
