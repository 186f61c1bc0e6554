package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/config"
	"github.com/charlie0129/battime/pkg/events"
	"github.com/charlie0129/battime/pkg/history"
	"github.com/charlie0129/battime/pkg/profile"
	"github.com/charlie0129/battime/pkg/series"
	"github.com/charlie0129/battime/pkg/telemetry"
	"github.com/charlie0129/battime/pkg/warning"
)

// Provider is a telemetry source that is read by polling.
type Provider interface {
	telemetry.Provider
	Poll(l telemetry.Listener) error
}

type Options struct {
	Config   config.Config
	Provider Provider
	AC       cell.ACSource
	Load     profile.LoadSource
	Screen   profile.ScreenSource
	Store    profile.Store
	// History may be nil, in which case nothing is recorded.
	History history.Repository
}

// Daemon wires telemetry into the aggregators, the runtime profile and the
// warning engine, and serves the result over HTTP.
type Daemon struct {
	conf     config.Config
	provider Provider
	ac       cell.ACSource
	hub      *events.EventHub
	profile  *profile.Profile
	sampler  *profile.Sampler
	aggs     map[cell.Kind]*cell.Aggregator
	engine   *warning.Engine
	history  history.Repository
	recorder *TimeSeriesRecorder

	// mu serializes poll cycles and config changes, and with them every
	// aggregator event.
	mu           sync.Mutex
	onAC         bool
	acSeen       bool
	lastRecorded map[cell.Kind]history.Sample
	sampled      sampledPercent

	liveMu sync.Mutex
	// live holds recent primary percentages for rate estimates when no
	// history database is available.
	live      *series.Series
	liveStart time.Time

	now func() time.Time
}

func New(opts Options) *Daemon {
	conf := opts.Config
	p := profile.New(opts.Store, profileOptions(conf))

	d := &Daemon{
		conf:         conf,
		provider:     opts.Provider,
		ac:           opts.AC,
		hub:          events.NewEventHub(),
		profile:      p,
		sampler:      profile.NewSampler(p, opts.Load, opts.Screen),
		aggs:         make(map[cell.Kind]*cell.Aggregator, len(cell.Kinds)),
		engine:       warning.NewEngine(conf.Policy(), conf.Thresholds(), p),
		history:      opts.History,
		recorder:     NewTimeSeriesRecorder(60, conf.PollInterval()),
		lastRecorded: make(map[cell.Kind]history.Sample),
		live:         series.New(),
		now:          time.Now,
	}
	d.live.MaxWidth = liveWidth
	d.sampler.SetClock(func() time.Time { return d.now() })

	for _, kind := range cell.Kinds {
		var ps cell.ProfileSource
		if kind == cell.KindPrimary {
			ps = p
		}
		agg := cell.NewAggregator(kind, opts.Provider, opts.AC, ps, cellOptions(conf))
		agg.Subscribe(cell.ObserverFunc(d.onCellEvent))
		d.aggs[kind] = agg
	}

	return d
}

// liveWidth is how many seconds of primary percentages are kept in memory.
const liveWidth = 60 * 60

func profileOptions(conf config.Config) profile.Options {
	opts := profile.DefaultOptions()
	opts.Smoothing = conf.Smoothing()
	opts.GapFill = conf.GapFill()
	return opts
}

func cellOptions(conf config.Config) cell.Options {
	return cell.Options{
		ChargedThreshold: conf.ChargedThreshold(),
		ChargedMargin:    conf.ChargedMargin(),
		UseProfile:       conf.UseProfile(),
	}
}

// Hub is the event stream of the daemon.
func (d *Daemon) Hub() *events.EventHub {
	return d.hub
}

// ApplyConfig pushes the current configuration into every component.
func (d *Daemon) ApplyConfig() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.profile.SetOptions(profileOptions(d.conf))
	d.engine.SetPolicy(d.conf.Policy())
	d.engine.SetThresholds(d.conf.Thresholds())
	d.recorder.SetInterval(d.conf.PollInterval())
	for _, kind := range cell.Kinds {
		d.aggs[kind].SetOptions(cellOptions(d.conf))
	}
	logrus.WithFields(d.conf.LogrusFields()).Debug("config applied")
}

// DeviceAdded, DeviceRemoved and PropertyChanged route telemetry to the
// aggregator of the device's kind.

func (d *Daemon) DeviceAdded(dev telemetry.Device) {
	if agg, ok := d.aggs[dev.Kind]; ok {
		agg.Add(dev.ID)
	}
}

func (d *Daemon) DeviceRemoved(dev telemetry.Device) {
	if agg, ok := d.aggs[dev.Kind]; ok {
		agg.Remove(dev.ID)
	}
}

func (d *Daemon) PropertyChanged(dev telemetry.Device, key cell.Property, v any) {
	if agg, ok := d.aggs[dev.Kind]; ok {
		agg.Apply(dev.ID, key, v)
	}
}

var _ telemetry.Listener = &Daemon{}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	var repo history.Repository
	if conf.HistoryEnabled() {
		repo, err = history.NewRepository(conf.HistoryPath())
		if err != nil {
			logrus.WithError(err).Error("failed to open history database, history is disabled")
			repo = nil
		}
	}

	d := New(Options{
		Config:   conf,
		Provider: telemetry.NewPoller(""),
		AC:       telemetry.NewACAdapter(""),
		Load:     telemetry.SystemLoad{},
		Screen:   telemetry.NewScreen(""),
		Store:    profile.NewFileStore(conf.ProfileDir()),
		History:  repo,
	})

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			d.ApplyConfig()
			logrus.Infof("config reloaded")
		}
	}()
	conf.Watch(d.ApplyConfig)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Handler: d.setupRoutes(),
	}

	// A stale socket from a crashed daemon would make Listen fail.
	if _, err := os.Stat(unixSocketPath); err == nil {
		logrus.WithField("path", unixSocketPath).Warn("removing stale unix socket")
		_ = os.Remove(unixSocketPath)
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		logrus.Debugln("poll loop starts")
		d.Loop(ctx)
	}()

	sched := NewScheduler()
	if err := d.registerJobs(sched); err != nil {
		logrus.WithError(err).Error("failed to register maintenance jobs")
	}
	sched.Start()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	// ends the event streams, which would otherwise hold up Shutdown
	d.hub.Close()

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("stopping poll loop")
	cancel()
	<-loopDone

	logrus.Info("stopping scheduler")
	<-sched.Stop().Done()

	if repo != nil {
		logrus.Info("closing history database")
		if err := repo.Close(); err != nil {
			logrus.Errorf("failed to close history database: %v", err)
		}
	}

	logrus.Info("exiting")
	return nil
}
