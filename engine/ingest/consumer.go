package ingest

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/complimo/complimo/pkg/natsutil"
)

const (
	// IngestSubject is the default NATS subject for ingestion jobs.
	IngestSubject = "complimo.ingest"
	// QueueGroup load-balances jobs across workers.
	QueueGroup = "complimo-ingest-workers"
	// MaxRetries before a job goes to the DLQ.
	MaxRetries = 3
	// HeaderRetryCount carries the attempt counter across republishes.
	HeaderRetryCount = "X-Retry-Count"
)

// DLQSubject returns the dead letter subject for subject.
func DLQSubject(subject string) string { return subject + ".dlq" }

// DLQMessage is published to the DLQ after repeated failure.
type DLQMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// Submit publishes a job for asynchronous ingestion and returns its
// ingestion id, assigning one if the job has none.
func Submit(ctx context.Context, nc *nats.Conn, subject string, job Job) (string, error) {
	if subject == "" {
		subject = IngestSubject
	}
	if job.IngestionID == "" {
		job.IngestionID = NewIngestionID()
	}
	return job.IngestionID, natsutil.Publish(ctx, nc, subject, job)
}

// StartConsumer runs jobs from subject through svc. Failures are
// republished with an incremented retry header until MaxRetries, then sent
// to the DLQ. The onDone hook, if set, sees every finished attempt.
func StartConsumer(nc *nats.Conn, subject string, svc *Service, log *slog.Logger, onDone func(Result, error)) (*nats.Subscription, error) {
	if subject == "" {
		subject = IngestSubject
	}
	if log == nil {
		log = slog.Default()
	}

	return natsutil.QueueSubscribe(nc, subject, QueueGroup, func(ctx context.Context, job Job, msg *nats.Msg) {
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(HeaderRetryCount); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		res, err := svc.Ingest(ctx, job)
		if err != nil {
			retries++
			log.Error("ingest: pipeline failed", "error", err, "path", job.Path, "retry", retries)
			if retries >= MaxRetries {
				if perr := natsutil.Publish(ctx, nc, DLQSubject(subject), DLQMessage{Job: job, Error: err.Error(), Retries: retries}); perr != nil {
					log.Error("ingest: DLQ publish failed", "error", perr)
				}
			} else {
				hdr := nats.Header{}
				hdr.Set(HeaderRetryCount, strconv.Itoa(retries))
				if perr := natsutil.PublishWithHeader(ctx, nc, subject, job, hdr); perr != nil {
					log.Error("ingest: retry publish failed", "error", perr)
				}
			}
		}
		if onDone != nil {
			onDone(res, err)
		}
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	}, func(_ *nats.Msg, err error) {
		log.Error("ingest: unmarshal failed", "error", err)
	})
}
