// Package publisher reports instance telemetry to the hub: it authenticates,
// keeps the socket connection and emits typed envelopes over it.
package publisher

import (
	"errors"
	"fmt"

	"qrypub/internal/socketio"
	"qrypub/pkg/protocol"

	"go.uber.org/zap"
)

var ErrInvalidStatus = errors.New("invalid indexer status")

// Publish sends env on the instance-data event. Without an open connection
// the envelope is logged and dropped.
func (p *Publisher) Publish(env protocol.Envelope) error {
	err := p.emit(protocol.EventInstanceData, env)
	p.published(string(env.Type), err)
	return err
}

// SendMetadata sends data on the instance-metadata event.
func (p *Publisher) SendMetadata(data any) error {
	err := p.emit(protocol.EventInstanceMetadata, data)
	p.published(protocol.EventInstanceMetadata, err)
	return err
}

// PublishApiUsageMap publishes a per-endpoint status-code table. Empty
// bounds are omitted.
func (p *Publisher) PublishApiUsageMap(table protocol.UsageStatsTable, fromTs, toTs string) error {
	usage, err := protocol.FormatUsageStats(table)
	if err != nil {
		p.logger.Error("format usage stats", zap.Error(err))
		return err
	}
	return p.Publish(protocol.Envelope{
		Type: protocol.TypeApiUsageMap,
		Data: protocol.ApiUsageMapData{Usage: usage, FromTs: fromTs, ToTs: toTs},
	})
}

// PublishApiUsage publishes a request counter sample.
func (p *Publisher) PublishApiUsage(counter int64, timestamp string) error {
	return p.Publish(protocol.Envelope{
		Type: protocol.TypeApiUsage,
		Data: protocol.ApiUsageData{Counter: counter, Timestamp: timestamp},
	})
}

// PublishPastApiUsage backfills historical counter samples.
func (p *Publisher) PublishPastApiUsage(points []protocol.UsagePoint) error {
	if points == nil {
		points = []protocol.UsagePoint{}
	}
	p.logger.Debug("publishing past api usage", zap.Int("points", len(points)))
	return p.Publish(protocol.Envelope{Type: protocol.TypePastApiUsage, Data: points})
}

// PublishIndexerStatus publishes the indexer state. Values outside the four
// known statuses are rejected.
func (p *Publisher) PublishIndexerStatus(status protocol.IndexerStatus) error {
	if !status.Valid() {
		p.logger.Error("refusing to publish indexer status", zap.String("status", string(status)))
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return p.Publish(protocol.Envelope{
		Type: protocol.TypeIndexerStatus,
		Data: protocol.IndexerStatusData{Status: status},
	})
}

func (p *Publisher) emit(event string, v any) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn == nil || !conn.Connected() {
		p.logger.Error("socket not connected", zap.String("event", event))
		return socketio.ErrNotConnected
	}
	if err := conn.Emit(event, v); err != nil {
		p.logger.Error("emit failed", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

func (p *Publisher) published(kind string, err error) {
	if p.opts.OnPublish != nil {
		p.opts.OnPublish(kind, err)
	}
}
