// Package jobs accepts translation requests over NATS and runs them through
// the pipeline with bounded concurrency.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-s2s/internal/bus"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/pipeline"
	"github.com/loqalabs/loqa-s2s/internal/protocol"
	"github.com/loqalabs/loqa-s2s/internal/stt"
)

const (
	resultRetention = 24 * time.Hour
	drainTimeout    = 5 * time.Second
)

type Service struct {
	cfg    config.JobsConfig
	bus    *bus.Client
	orch   *pipeline.Orchestrator
	slots  chan struct{}
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.JobsConfig, busClient *bus.Client, orch *pipeline.Orchestrator, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		orch:   orch,
		slots:  make(chan struct{}, concurrency),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "jobs")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.bus.EnsureStream(protocol.StreamResults, []string{protocol.SubjectTranslateResult}, resultRetention); err != nil {
		s.logger.Warn("results will not be retained", slogError(err))
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTranslateRequest, s.cfg.QueueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe translate requests: %w", err)
	}
	s.sub = sub
	s.logger.Info("accepting translation jobs",
		slog.String("subject", protocol.SubjectTranslateRequest),
		slog.String("queue_group", s.cfg.QueueGroup),
		slog.Int("max_concurrency", cap(s.slots)),
	)
	return nil
}

// Close stops accepting requests, lets already delivered ones register, then
// cancels whatever is still queued or running. Every accepted request gets a
// result.
func (s *Service) Close() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn("failed to drain subscription", slogError(err))
		}
		deadline := time.Now().Add(drainTimeout)
		for s.sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.sub != nil && s.sub.IsValid())
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranslateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode translate request", slogError(err))
		s.finish(msg, protocol.TranslateResult{
			Error:     fmt.Sprintf("decode request: %v", err),
			ErrorKind: pipeline.KindName(pipeline.ErrInvalidRequest),
			Timestamp: time.Now().UTC(),
		})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.slots <- struct{}{}:
		case <-s.ctx.Done():
			s.finish(msg, cancelledResult(req))
			return
		}
		defer func() { <-s.slots }()
		if s.ctx.Err() != nil {
			s.finish(msg, cancelledResult(req))
			return
		}
		s.finish(msg, s.run(req))
	}()
}

func (s *Service) run(req protocol.TranslateRequest) protocol.TranslateResult {
	out := protocol.TranslateResult{
		RequestID: req.RequestID,
		Source:    req.Source,
		Target:    req.Target,
	}
	size, err := stt.ParseModelSize(req.ASRModel)
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = pipeline.KindName(pipeline.ErrInvalidRequest)
		out.Timestamp = time.Now().UTC()
		return out
	}

	res, err := s.orch.RunFile(s.ctx, pipeline.Request{
		ID:         req.RequestID,
		InputPath:  req.InputPath,
		Source:     language.Code(req.Source),
		Target:     language.Code(req.Target),
		OutputPath: req.OutputPath,
		ASRSize:    size,
	}, pipeline.ObserverFunc(s.publishStatus))
	out.Timestamp = time.Now().UTC()
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = pipeline.KindName(err)
		if s.ctx.Err() != nil {
			out.ErrorKind = pipeline.KindName(pipeline.ErrCancelled)
		}
		return out
	}
	out.Route = res.Route.String()
	out.SourceText = res.SourceText
	out.TranslatedText = res.TranslatedText
	out.OutputPath = res.OutputPath
	out.OutputDurationMS = res.OutputDuration.Milliseconds()
	return out
}

func cancelledResult(req protocol.TranslateRequest) protocol.TranslateResult {
	return protocol.TranslateResult{
		RequestID: req.RequestID,
		Source:    req.Source,
		Target:    req.Target,
		Error:     fmt.Sprintf("%v: worker shutting down", pipeline.ErrCancelled),
		ErrorKind: pipeline.KindName(pipeline.ErrCancelled),
		Timestamp: time.Now().UTC(),
	}
}

func (s *Service) publishStatus(t pipeline.Transition) {
	status := protocol.TranslateStatus{
		RequestID: t.RequestID,
		From:      t.From.String(),
		State:     t.To.String(),
		Timestamp: t.At.UTC(),
	}
	if t.Err != nil {
		status.Error = t.Err.Error()
		status.ErrorKind = pipeline.KindName(t.Err)
	}
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.StatusSubject(t.RequestID), data); err != nil {
		s.logger.Warn("failed to publish status", slogError(err))
	}
}

func (s *Service) finish(msg *nats.Msg, result protocol.TranslateResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to marshal result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranslateResult, data); err != nil {
		s.logger.Warn("failed to publish result", slogError(err))
	}
	if msg.Reply != "" {
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to reply to request", slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
