package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/consul-visit-booker/internal/api"
	"github.com/hackgods/consul-visit-booker/internal/audit"
	"github.com/hackgods/consul-visit-booker/internal/booking"
	"github.com/hackgods/consul-visit-booker/internal/browser"
	"github.com/hackgods/consul-visit-booker/internal/calendar"
	"github.com/hackgods/consul-visit-booker/internal/config"
	"github.com/hackgods/consul-visit-booker/internal/control"
	"github.com/hackgods/consul-visit-booker/internal/db"
	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/input"
	"github.com/hackgods/consul-visit-booker/internal/input/robot"
	"github.com/hackgods/consul-visit-booker/internal/logger"
	"github.com/hackgods/consul-visit-booker/internal/metrics"
	"github.com/hackgods/consul-visit-booker/internal/perception"
	"github.com/hackgods/consul-visit-booker/internal/perception/screen"
	"github.com/hackgods/consul-visit-booker/internal/perception/tesseract"
	"github.com/hackgods/consul-visit-booker/internal/queue"
	redisclient "github.com/hackgods/consul-visit-booker/internal/redis"
	"github.com/hackgods/consul-visit-booker/internal/scheduler"
	"github.com/hackgods/consul-visit-booker/internal/slots"
	"github.com/hackgods/consul-visit-booker/internal/watcher"
	"github.com/hackgods/consul-visit-booker/internal/wizard"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Str("version", version).Msg("booker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("booker stopped with error")
	}
	log.Info().Msg("booker stopped")
}

// stores holds the optional shared backends.
type stores struct {
	pg       *pgxpool.Pool
	rdb      *goredis.Client
	registry slots.Registry
	locker   redisclient.Locker
}

func connectStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (*stores, error) {
	s := &stores{registry: slots.NewMemory(), locker: redisclient.NewLocalLocker()}

	if cfg.PostgresEnabled() {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, log)
		if err == nil {
			err = db.EnsureSchema(pgCtx, pool)
		}
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.pg = pool
		log.Info().Msg("connected to Postgres")
	}

	if cfg.RedisEnabled() {
		rdb, err := redisclient.Connect(ctx, redisclient.OptionsFrom(cfg), log)
		if err != nil {
			s.close(log)
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.rdb = rdb
		s.registry = slots.NewRedisRegistry(rdb)
		s.locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		log.Info().Msg("connected to Redis, registry and locks are shared")
	}
	return s, nil
}

func (s *stores) close(log zerolog.Logger) {
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}
	if s.pg != nil {
		s.pg.Close()
	}
}

func run(rootCtx context.Context, cfg config.Config, log zerolog.Logger) error {
	statuses := identity.NewStatusStore(cfg.StatusDir, identity.WithStatusLog(log))
	loader := identity.NewLoader(cfg.UsersDir, cfg.KeysDir, cfg.FernetKey, statuses, log)
	ids, err := loader.Load()
	if err != nil {
		return err
	}
	log.Info().Int("identities", len(ids)).Msg("identities loaded")

	st, err := connectStores(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close(log)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Audit: log + ring for the API + Postgres, all behind a bounded queue.
	ring := audit.NewMemory(500)
	recorders := audit.Multi{audit.NewLogRecorder(log), ring}
	var events api.EventSource = ring
	if st.pg != nil {
		repo := audit.NewPgRepository(st.pg)
		recorders = append(recorders, repo)
		events = repo
	}
	async := audit.NewAsync(recorders, 256, log)
	sink := audit.NewHooks(async, log)

	mon, err := screen.Open(cfg.MonitorIndex, cfg.MonitorWidth, cfg.MonitorHeight, log)
	if err != nil {
		return err
	}
	ocr, err := tesseract.New(cfg.OCRLang, cfg.TessdataPrefix)
	if err != nil {
		return err
	}
	defer ocr.Close()

	see := perception.NewPerceiver(mon, ocr, perception.NewTemplateStore(cfg.TemplateDir), cfg.ScreenshotDir, log)
	act := input.NewInjector(robot.Device{}, robot.Clipboard{}, log)

	wizCfg := wizard.DefaultConfig()
	wizCfg.Probe.Fuzzy = cfg.FuzzyThreshold

	calCfg := calendar.DefaultConfig()
	calCfg.Probe.Fuzzy = cfg.FuzzyThreshold
	calCfg.CaptchaRetries = cfg.CaptchaRetries
	calCfg.MaxMonths = cfg.CalendarMaxMonths
	calCfg.MaxIterations = cfg.CalendarMaxIterations
	finder := calendar.NewFinder(see, act, st.registry, st.locker, statuses, sink, calCfg, log)

	launcher := browser.NewLauncher(browser.Options{
		Bin:    cfg.ChromeBin,
		URL:    cfg.PortalURL,
		Window: mon.Bounds(),
		Settle: 3 * time.Second,
	}, browser.NewProfiles(cfg.ChromeTemplate, cfg.ChromeProfiles, cfg.KeepProfiles, log), log)

	svc := booking.NewService(booking.Deps{
		Browser:   launcher,
		NewWizard: func() booking.Wizard { return wizard.New(see, act, wizCfg, log) },
		Search:    finder,
		Statuses:  statuses,
		Sink:      sink,
		Shots:     see,
		Metrics:   m,
	}, log)

	// stop cancels ctx; the scheduler finishes the attempt in flight first.
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	gate := &scheduler.Gate{}
	q := queue.New(ids...)
	sched := scheduler.New(q, st.registry, svc, loader, gate, m, scheduler.Options{
		IdleInterval: cfg.IdleInterval,
		PausePoll:    cfg.PausePoll,
	}, log)
	ctrl := control.NewController(gate, cancel, log)

	w, err := watcher.New(cfg.UsersDir, sched, log)
	if err != nil {
		return err
	}
	ctlSrv := control.NewServer(cfg.ControlAddr, ctrl, log)
	if err := ctlSrv.Start(); err != nil {
		return err
	}
	janitor := slots.NewJanitor(st.registry, cfg.PruneInterval, log,
		slots.OnPrune(func(n int) { m.RegistryPruned.Add(float64(n)) }))

	// The audit queue outlives the scheduler so the last attempt's events drain.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	auditDone := make(chan error, 1)
	go func() { auditDone <- async.Run(auditCtx, cfg.ShutdownTimeout) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return ctlSrv.Serve(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })

	if cfg.HTTPPort != "" {
		router := api.NewRouter(api.RouterConfig{
			Queue:    q,
			Activity: sched,
			Slots:    st.registry,
			Events:   events,
			Control:  ctrl,
			Metrics:  promhttp.Handler(),
			PgPool:   st.pg,
			Redis:    st.rdb,
			Log:      log,
			Env:      cfg.Env,
			Version:  version,
		})
		srv := &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	stopAudit()
	if aerr := <-auditDone; aerr != nil {
		log.Warn().Err(aerr).Int64("dropped", async.Dropped()).Msg("audit queue did not drain")
	}
	return err
}
