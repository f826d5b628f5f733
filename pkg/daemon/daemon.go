package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/device"
	"github.com/batteryhealth/bhc/pkg/driver"
	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/metrics"
	"github.com/batteryhealth/bhc/pkg/monitor"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/sysfs"
)

const historySize = 50

// Server serves the driver over HTTP.
type Server struct {
	driver    *driver.Driver
	conf      config.Config
	registry  *device.Registry
	env       device.Env
	hub       *events.EventHub
	scheduler *Scheduler
	history   *ApplyHistory
	gatherer  prometheus.Gatherer
}

// ServerOptions are the collaborators of a Server. Scheduler, History and
// Gatherer may be nil.
type ServerOptions struct {
	Driver    *driver.Driver
	Config    config.Config
	Registry  *device.Registry
	Env       device.Env
	Hub       *events.EventHub
	Scheduler *Scheduler
	History   *ApplyHistory
	Gatherer  prometheus.Gatherer
}

func NewServer(opts ServerOptions) *Server {
	if opts.Registry == nil {
		opts.Registry = device.DefaultRegistry()
	}
	return &Server{
		driver:    opts.Driver,
		conf:      opts.Config,
		registry:  opts.Registry,
		env:       opts.Env,
		hub:       opts.Hub,
		scheduler: opts.Scheduler,
		history:   opts.History,
		gatherer:  opts.Gatherer,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", s.getStatus)
	router.GET("/config", s.getConfig)
	router.GET("/device", s.getDevice)
	router.GET("/devices", s.getDevices)
	router.GET("/battery-info", s.getBatteryInfo)
	router.GET("/version", s.getVersion)
	router.GET("/events", s.streamEvents)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	router.PUT("/charging-mode", s.setChargingMode)
	router.PUT("/threshold", s.setThreshold)
	router.PUT("/reapply-schedule", s.setReapplySchedule)
	router.POST("/reapply-schedule/skip", s.skipReapply)

	router.POST("/apply", s.apply)
	router.POST("/detect", s.detect)
	router.POST("/installation/:action", s.installation)

	return router
}

// Options configures Run.
type Options struct {
	ConfigPath string
	SocketPath string
	// Root is prefixed to every sysfs path. Empty means "/".
	Root string
	// Elevator runs the helper and installer. Empty uses pkexec.
	Elevator string
	// User is the user the helper is installed for. Empty uses the current user.
	User string
	// PollInterval is the battery level poll interval. Zero uses the default.
	PollInterval time.Duration
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		logrus.Warnf("failed to get current user: %v", err)
		return os.Getenv("USER")
	}
	return u.Username
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(opts Options) error {
	if opts.Elevator == "" {
		opts.Elevator = privileged.DefaultElevator
	}
	if opts.User == "" {
		opts.User = currentUser()
	}
	if opts.SocketPath == "" {
		opts.SocketPath = config.DefaultSocketPath()
	}

	conf, err := config.NewFile(opts.ConfigPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	hub := events.NewEventHub()
	fs := sysfs.New(opts.Root)
	env := device.Env{
		FS: fs,
		Runner: privileged.NewHelperRunner(privileged.Options{
			Elevator:   opts.Elevator,
			HelperPath: conf.CtlPath,
			Timeout:    conf.CommandTimeout(),
		}),
		Config: conf,
		Events: hub,
		Levels: monitor.NewPoller(fs, opts.PollInterval),
	}

	registry := device.DefaultRegistry()
	drv := driver.New(driver.Options{
		Registry: registry,
		Env:      env,
		Installer: &privileged.ScriptInstaller{
			Elevator:    opts.Elevator,
			ResourceDir: conf.ResourceDir,
			User:        opts.User,
		},
		User: opts.User,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	go collector.Run(ctx, hub)

	history := NewApplyHistory(historySize)
	go history.Run(ctx, hub)

	scheduler := NewScheduler(func() error {
		return drv.ApplyThreshold(ctx)
	}, func(data any) {
		logrus.WithField("error", data).Warn("scheduled reapply failed")
	})
	if err := scheduler.Schedule(conf.ReapplySchedule()); err != nil {
		logrus.Errorf("invalid reapply schedule %q: %v", conf.ReapplySchedule(), err)
	}
	scheduler.Start()

	go func() {
		if err := drv.Start(ctx); err != nil {
			logrus.WithError(err).Warn("driver pipeline did not complete")
		}
	}()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := conf.Load(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
			if err := scheduler.Schedule(conf.ReapplySchedule()); err != nil {
				logrus.Errorf("invalid reapply schedule %q: %v", conf.ReapplySchedule(), err)
			}
			if err := drv.ApplyThreshold(ctx); err != nil {
				logrus.WithError(err).Warn("failed to reapply threshold after reload")
			}
		}
	}()

	server := NewServer(ServerOptions{
		Driver:    drv,
		Config:    conf,
		Registry:  registry,
		Env:       env,
		Hub:       hub,
		Scheduler: scheduler,
		History:   history,
		Gatherer:  reg,
	})
	srv := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// A previous instance may have left its socket behind.
	if _, err := os.Stat(opts.SocketPath); err == nil {
		logrus.Warnf("removing stale socket %s", opts.SocketPath)
		if err := os.Remove(opts.SocketPath); err != nil {
			return pkgerrors.Wrapf(err, "failed to remove stale socket %s", opts.SocketPath)
		}
	}

	l, err := net.Listen("unix", opts.SocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", opts.SocketPath)
	}
	if err := os.Chmod(opts.SocketPath, 0o600); err != nil {
		logrus.Warnf("failed to restrict permissions of %s: %v", opts.SocketPath, err)
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("stopping scheduler")
	scheduler.Stop()

	logrus.Info("destroying driver")
	drv.Destroy()
	cancel()
	hub.Close()

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	if err := os.Remove(opts.SocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to remove socket %s: %v", opts.SocketPath, err)
	}

	logrus.Info("exiting")
	return nil
}
