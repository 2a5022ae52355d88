package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/buffer"
	"codeberg.org/mutker/ecgcapture/internal/casestore"
	"codeberg.org/mutker/ecgcapture/internal/config"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/export"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
	"codeberg.org/mutker/ecgcapture/internal/monitor"
	"codeberg.org/mutker/ecgcapture/internal/pid"
	"codeberg.org/mutker/ecgcapture/internal/predict"
	"codeberg.org/mutker/ecgcapture/internal/quality"
	"codeberg.org/mutker/ecgcapture/internal/render"
	ecgsignal "codeberg.org/mutker/ecgcapture/internal/signal"
	"codeberg.org/mutker/ecgcapture/internal/store"
	"codeberg.org/mutker/ecgcapture/internal/synth"
)

type app struct {
	cfg *config.Config
	log logger.Logger

	metrics  metrics.Collector
	ingestor *buffer.Ingestor
	session  *acquisition.Session
	loop     *render.Loop
	hub      *monitor.Hub
	gate     *quality.Gate
	workflow *export.Workflow
	server   *monitor.Server

	db      *store.DB
	journal *store.Journal
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel.String(), logger.IsService())
	log := logger.Default()
	log.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		log.Error().Err(err).Str("error_code", string(errors.CodeOf(err))).Msg("Failed to acquire PID file")
		os.Exit(1)
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, log)

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error().Err(err).Str("error_code", string(errors.CodeOf(err))).Msg("Failed to initialize")
		cancel()
		_ = pid.Remove(cfg.PIDFile)
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil {
		log.Error().Err(err).Msg("Error in main loop")
	}
	a.close()
	log.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc, log logger.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info().Msg("Received termination signal.")
	cancel()
}

func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var err error
	a.metrics, err = metrics.NewService(metrics.Config{Enabled: cfg.Metrics, Namespace: "ecgcapture"}, log.WithComponent("metrics"))
	if err != nil {
		return nil, err
	}

	a.ingestor = buffer.NewIngestor(cfg.QueueCapacity, a.metrics, log.WithComponent("buffer"))

	opts := acquisition.DefaultOptions()
	opts.Port = cfg.Port
	opts.Baud = cfg.Baud
	opts.SampleInterval = cfg.SampleInterval
	opts.MaxDuration = cfg.MaxSessionDuration

	a.session, err = acquisition.New(newSource(cfg, log), opts, a.metrics, log.WithComponent("acquisition"), a.ingestor)
	if err != nil {
		return nil, err
	}

	monCfg := monitor.DefaultConfig()
	if cfg.Listen != "" {
		monCfg.Listen = cfg.Listen
	}
	a.hub = monitor.NewHub(monCfg, log.WithComponent("live"))

	a.loop, err = render.NewLoop(a.ingestor, render.Config{
		Interval:       cfg.RenderInterval,
		DisplaySamples: cfg.MaxDisplaySamples,
	}, a.metrics, log.WithComponent("render"), a.hub)
	if err != nil {
		return nil, err
	}

	synthesizer, err := synth.New(synth.DefaultConfig())
	if err != nil {
		return nil, err
	}

	a.gate, err = quality.NewGate(quality.DefaultConfig(), a.metrics, log.WithComponent("quality"))
	if err != nil {
		return nil, err
	}

	predictor, err := predict.New(cfg.Predictor)
	if err != nil {
		return nil, err
	}

	a.openStore()

	cases, patients, err := a.caseStores()
	if err != nil {
		return nil, err
	}

	deps := export.Deps{
		Session:   a.session,
		Recording: a.ingestor,
		Synth:     synthesizer,
		Gate:      a.gate,
		Cases:     cases,
		Patients:  patients,
		Predictor: predictor,
		Metrics:   a.metrics,
		Logger:    log.WithComponent("export"),
	}
	if a.journal != nil {
		deps.Journal = a.journal
	}

	a.workflow, err = export.New(deps)
	if err != nil {
		return nil, err
	}

	if cfg.Listen != "" {
		a.server, err = monitor.New(monCfg, monitor.Deps{
			Session:  a.session,
			Frames:   a.loop,
			Exporter: a.workflow,
			Assessor: a.gate,
			Metrics:  a.metrics,
			Hub:      a.hub,
		}, log.WithComponent("monitor"))
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

func newSource(cfg *config.Config, log logger.Logger) ecgsignal.Source {
	if cfg.Source == config.SourceSerial {
		return ecgsignal.NewSerial(log.WithComponent("serial"), ecgsignal.WithFramesPerBatch(cfg.SamplesPerBatch))
	}

	return ecgsignal.NewSimulator(ecgsignal.WithSamplesPerBatch(cfg.SamplesPerBatch))
}

// openStore opens the local database. With the api store it only carries
// the journal, so a failure there is logged and tolerated.
func (a *app) openStore() {
	scfg := store.DefaultConfig()
	scfg.DBPath = a.cfg.DBPath

	db, err := store.Open(scfg, a.log.WithComponent("store"))
	if err != nil {
		a.log.Warn().Err(err).Str("path", scfg.DBPath).Msg("Local store unavailable, journal disabled")
		return
	}

	a.db = db
	a.journal = db.Journal()
}

func (a *app) caseStores() (export.CaseStore, export.PatientStore, error) {
	if a.cfg.Store == config.StoreLocal {
		if a.db == nil {
			return nil, nil, errors.New().WithMessage(errors.ErrInitFailed, "local store requested but the database could not be opened")
		}
		repo := a.db.Cases()
		return repo, repo, nil
	}

	client, err := casestore.New(casestore.Config{
		BaseURL: a.cfg.ServerURL,
		Token:   a.cfg.APIToken,
		Timeout: a.cfg.RequestTimeout,
	}, a.log.WithComponent("casestore"))
	if err != nil {
		return nil, nil, err
	}

	return client, client, nil
}

func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	events, unsubscribe := a.session.Subscribe(16)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.loop.Run(ctx); err != nil {
			a.log.Error().Err(err).Msg("Render loop failed")
		}
	}()
	go func() {
		defer wg.Done()
		a.journalSessions(ctx, events)
	}()

	var runErr error
	if a.server != nil {
		runErr = a.server.Run(ctx)
	} else {
		a.log.Warn().Msg("Monitor server disabled, recording until the session stops")
		idle, stopWatching := a.session.Subscribe(16)
		if err := a.session.Start(ctx); err != nil {
			runErr = err
		} else {
			untilIdle(ctx, idle)
		}
		stopWatching()
	}

	a.session.Stop()
	cancel()
	unsubscribe()
	wg.Wait()

	return runErr
}

// journalSessions records each finished session until events is closed,
// which happens only after the final Stop.
func (a *app) journalSessions(ctx context.Context, events <-chan acquisition.Event) {
	for ev := range events {
		if ev.Status != acquisition.StatusIdle || a.journal == nil {
			continue
		}

		entry := store.SessionEntry{
			ID:        ev.SessionID,
			StartedAt: ev.StartedAt,
			StoppedAt: ev.At,
			Reason:    string(ev.Reason),
			Samples:   ev.Samples,
		}
		if err := a.journal.RecordSession(context.WithoutCancel(ctx), entry); err != nil {
			a.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("Failed to journal session")
		}
	}
}

// untilIdle blocks until the session reports Idle, events is closed or
// ctx ends.
func untilIdle(ctx context.Context, events <-chan acquisition.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok || ev.Status == acquisition.StatusIdle {
				return
			}
		}
	}
}

func (a *app) close() {
	a.hub.Close()

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to flush journal")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
