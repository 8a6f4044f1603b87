package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/ingest"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
)

// ErrMalformedMessage marks messages that can never succeed; they skip the
// retry queue.
var ErrMalformedMessage = errors.New("malformed message")

// QueueIngestMsg asks the worker to run one ingestion.
type QueueIngestMsg struct {
	Message     string    `json:"message"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Force       bool      `json:"force"`
	RequestedAt time.Time `json:"requested_at"`
}

// SnapshotReplacedMsg is published on SnapshotReplacedTopic.
type SnapshotReplacedMsg struct {
	RunID                string    `json:"run_id"`
	Generation           int64     `json:"generation"`
	SourceURL            string    `json:"source_url"`
	ArchiveSHA256        string    `json:"archive_sha256"`
	ReplacedAt           time.Time `json:"replaced_at"`
	Organizations        int64     `json:"organizations"`
	Programs             int64     `json:"programs"`
	Associations         int64     `json:"associations"`
	DanglingAssociations int       `json:"dangling_associations"`
}

// Runner is satisfied by *ingest.Pipeline.
type Runner interface {
	Run(ctx context.Context, opts ingest.RunOptions) (*ingest.Report, error)
}

// EnqueueIngest publishes an ingest request to IngestQueue.
func EnqueueIngest(ctx context.Context, ch Publisher, msg QueueIngestMsg) error {
	if msg.RequestedAt.IsZero() {
		msg.RequestedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest request: %w", err)
	}
	return PublishFIFO(ctx, ch, IngestQueue, data)
}

// ProcessIngestMessage runs the pipeline for one ingest_queue message. An
// empty body is a plain request with default options.
func ProcessIngestMessage(ctx context.Context, runner Runner, body []byte) error {
	var msg QueueIngestMsg
	if len(body) > 0 {
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	}

	logger.Info("[Queue] Ingest requested", "requested_by", msg.RequestedBy, "force", msg.Force, "requested_at", msg.RequestedAt)

	report, err := runner.Run(ctx, ingest.RunOptions{Force: msg.Force, Trigger: "queue"})
	if err != nil {
		return err
	}
	logger.Info("[Queue] Ingest finished", "run_id", report.RunID, "outcome", report.Outcome)
	return nil
}

// EventNotifier announces replaced snapshots on the topic exchange.
type EventNotifier struct {
	ch Publisher
}

var _ ingest.Notifier = (*EventNotifier)(nil)

func NewEventNotifier(ch Publisher) *EventNotifier {
	return &EventNotifier{ch: ch}
}

func (n *EventNotifier) SnapshotReplaced(ctx context.Context, report *ingest.Report) error {
	info := report.Snapshot
	data, err := json.Marshal(SnapshotReplacedMsg{
		RunID:                report.RunID,
		Generation:           info.Generation,
		SourceURL:            info.SourceURL,
		ArchiveSHA256:        info.ArchiveSHA256,
		ReplacedAt:           info.ReplacedAt,
		Organizations:        info.Organizations,
		Programs:             info.Programs,
		Associations:         info.Associations,
		DanglingAssociations: report.Stats.DanglingAssociations,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot event: %w", err)
	}
	if err := PublishTopic(ctx, n.ch, SnapshotReplacedTopic, data); err != nil {
		return fmt.Errorf("failed to publish snapshot event: %w", err)
	}
	logger.Debug("[Queue] Published snapshot event", "topic", SnapshotReplacedTopic, "generation", info.Generation)
	return nil
}
