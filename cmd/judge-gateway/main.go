// Command judge-gateway serves judge workers over websocket, dispatching
// queued submissions to them and collecting their progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/criyle/judge-gateway/cluster"
	"github.com/criyle/judge-gateway/cmd/judge-gateway/config"
	restgateway "github.com/criyle/judge-gateway/cmd/judge-gateway/rest_gateway"
	"github.com/criyle/judge-gateway/cmd/judge-gateway/version"
	wsgateway "github.com/criyle/judge-gateway/cmd/judge-gateway/ws_gateway"
	"github.com/criyle/judge-gateway/filestore"
	"github.com/criyle/judge-gateway/gateway"
	"github.com/criyle/judge-gateway/identity"
	"github.com/criyle/judge-gateway/lock"
	"github.com/criyle/judge-gateway/submission"
	"github.com/criyle/judge-gateway/taskqueue"
	"github.com/criyle/judge-gateway/taskqueue/memory"
	"github.com/criyle/judge-gateway/taskqueue/redisqueue"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", conf)))
	}

	rc, redisCleanUp := newRedisClient(conf)
	var lk locker = lock.New(rc, lock.Config{
		Prefix:        conf.KeyPrefix,
		TTL:           conf.LockTTL,
		RetryInterval: conf.LockRetry,
		MaxRetries:    conf.LockMaxRetries,
	}, logger)
	if conf.EnableMetrics {
		lk = &metricsLocker{lk}
	}
	cl := cluster.New(cluster.Config{Client: rc, Prefix: conf.KeyPrefix, Logger: logger})

	db, err := submission.OpenDB(submission.DBConfig{
		Driver:       conf.DBDriver,
		DSN:          conf.DBDSN,
		MaxIdleConns: conf.DBMaxIdleConns,
		MaxOpenConns: conf.DBMaxOpenConns,
	})
	if err != nil {
		logger.Fatal("Open database failed", zap.Error(err))
	}
	store := submission.NewStore(db, conf.UsageWindow, logger)
	queue := newQueue(conf, rc, store)
	fs := newFileStore(conf)
	signer := newSigner(conf)
	ids, runtimeConfig := loadIdentities(conf)

	gw := gateway.New(gateway.Config{
		Queue:               queue,
		Locker:              lk,
		Reporter:            store,
		Signer:              signer,
		Identities:          ids,
		Sessions:            cl,
		Broadcaster:         cl,
		SystemInfo:          cl,
		RuntimeConfig:       runtimeConfig,
		PollTimeout:         conf.PollTimeout,
		AckTimeout:          conf.AckTimeout,
		CloseDelay:          conf.CloseDelay,
		DisconnectMarkerTTL: conf.DisconnectTTL,
		Logger:              logger,
		Observer:            newObserver(conf),
	})
	service := submission.NewService(submission.Config{
		Store:    store,
		Queue:    queue,
		Canceler: gw,
		Locker:   lk,
		Logger:   logger,
	})

	servers := []initFunc{
		initCancelListener(gw),
		initHTTPServer(conf, gw, service, store, cl, fs, signer),
		initMonitorHTTPServer(conf),
	}

	// Gracefully shutdown, with signal / HTTP server / Monitor HTTP server
	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, s := range servers {
		start, stop := s()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting Down...")

	ctx, cancel := context.WithTimeout(context.TODO(), time.Second*5)
	defer cancel()

	var eg errgroup.Group
	for _, s := range stops {
		eg.Go(func() error {
			return s(ctx)
		})
	}

	go func() {
		err := eg.Wait()
		// sessions are handed back to the queue before redis goes away
		err = errors.Join(err, gw.Shutdown(ctx))
		if sqlDB, derr := db.DB(); derr == nil {
			err = errors.Join(err, sqlDB.Close())
		}
		err = errors.Join(err, redisCleanUp())
		logger.Info("Shutdown Finished", zap.Error(err))
		cancel()
	}()
	<-ctx.Done()
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

type (
	stopFunc func(ctx context.Context) error
	initFunc func() (start func(), cleanUp stopFunc)
)

func initCancelListener(gw *gateway.Gateway) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		ctx, cancel := context.WithCancel(context.Background())
		if err := gw.Listen(ctx); err != nil {
			logger.Fatal("Subscribe to cancellations failed", zap.Error(err))
		}
		return nil, func(context.Context) error {
			cancel()
			logger.Info("Cancel listener stopped")
			return nil
		}
	}
}

func initHTTPServer(conf *config.Config, gw *gateway.Gateway, service *submission.Service, store *submission.Store,
	cl *cluster.Redis, fs filestore.FileStore, signer *filestore.Signer) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		r := initHTTPMux(conf, gw, service, store, cl, fs, signer)
		srv := http.Server{
			Addr:    conf.HTTPAddr,
			Handler: r,
		}

		return func() {
				lis, err := net.Listen("tcp", conf.HTTPAddr)
				if err != nil {
					logger.Error("Http server listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting http server", zap.String("addr", lis.Addr().String()))
				if err := srv.Serve(lis); errors.Is(err, http.ErrServerClosed) {
					logger.Info("Http server stopped", zap.Error(err))
				} else {
					logger.Error("Http server stopped", zap.Error(err))
				}
			}, func(ctx context.Context) error {
				logger.Info("Http server shutting down")
				return srv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				lis, err := net.Listen("tcp", conf.MonitorAddr)
				if err != nil {
					logger.Error("Monitoring http listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting monitoring http server", zap.String("addr", lis.Addr().String()))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.Serve(lis)))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !conf.EnableDebug {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func initHTTPMux(conf *config.Config, gw *gateway.Gateway, service *submission.Service, store *submission.Store,
	cl *cluster.Redis, fs filestore.FileStore, signer *filestore.Signer) http.Handler {
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	// Metrics Handle
	if conf.EnableMetrics {
		initGinMetrics(r)
	}

	// Version handle
	r.GET("/version", handleVersion)

	// Worker endpoints authenticate on their own
	wsgateway.New(gw, logger).Register(r)
	restgateway.NewDownloadHandle(fs, signer).Register(r)

	// Add auth token
	if conf.AuthToken != "" {
		r.Use(tokenAuth(conf.AuthToken))
		logger.Info("Attach token auth")
	} else {
		logger.Warn("Admin api is not protected, set AuthToken")
	}

	restgateway.NewAdminHandle(restgateway.AdminConfig{
		Submissions: service,
		Store:       store,
		Tasks:       gw,
		Workers:     gw.Registry(),
		SystemInfo:  cl,
		Logger:      logger,
	}).Register(r)
	restgateway.NewFileHandle(fs).Register(r)

	return r
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		initDebugRoute(mux)
	}
	return mux
}

func initDebugRoute(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}

func tokenAuth(token string) gin.HandlerFunc {
	const bearer = "Bearer "
	return func(c *gin.Context) {
		reqToken := c.GetHeader("Authorization")
		if strings.HasPrefix(reqToken, bearer) && reqToken[len(bearer):] == token {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

func handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"buildVersion": version.Version,
		"goVersion":    runtime.Version(),
		"platform":     runtime.GOARCH,
		"os":           runtime.GOOS,
	})
}

func newRedisClient(conf *config.Config) (redis.UniversalClient, func() error) {
	addr := conf.RedisAddr
	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		if mr, err = miniredis.Run(); err != nil {
			logger.Fatal("Start embedded redis failed", zap.Error(err))
		}
		addr = mr.Addr()
		logger.Warn("Using embedded in-memory redis, state is lost on exit and not shared between instances")
	}
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	})
	if err := rc.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Connect to redis failed", zap.String("addr", addr), zap.Error(err))
	}
	return rc, func() error {
		err := rc.Close()
		if mr != nil {
			mr.Close()
		}
		return err
	}
}

func newQueue(conf *config.Config, rc redis.UniversalClient, resolver taskqueue.Resolver) taskqueue.Queue {
	var store taskqueue.Store
	if conf.MemoryQueue {
		s := memory.New()
		store = s
		if conf.EnableMetrics {
			registerQueueLength(func() float64 { return float64(s.Len()) })
		}
	} else {
		s := redisqueue.New(rc, conf.KeyPrefix+conf.QueueKey)
		store = s
		if conf.EnableMetrics {
			registerQueueLength(func() float64 {
				n, err := s.Len(context.Background())
				if err != nil {
					return 0
				}
				return float64(n)
			})
		}
	}
	var q taskqueue.Queue = taskqueue.New(taskqueue.Config{
		Store:    store,
		Resolver: resolver,
		Logger:   logger,
	})
	if conf.EnableMetrics {
		q = &metricsQueue{q}
	}
	return q
}

func newFileStore(conf *config.Config) filestore.FileStore {
	if conf.Dir == "" {
		logger.Info("Using in-memory file store")
		return filestore.NewFileMemoryStore()
	}
	fs, err := filestore.NewFileLocalStore(conf.Dir)
	if err != nil {
		logger.Fatal("Failed to create file store dir", zap.String("dir", conf.Dir), zap.Error(err))
	}
	return fs
}

func newSigner(conf *config.Config) *filestore.Signer {
	secret := conf.FileSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("FileSecret not set, download urls are only valid on this instance")
	}
	return filestore.NewSigner(secret, conf.PublicURL, conf.FileURLTTL)
}

func loadIdentities(conf *config.Config) (*identity.Static, map[string]any) {
	f, err := identity.LoadFile(conf.WorkerConf)
	if err != nil {
		logger.Fatal("Load worker configuration failed", zap.String("file", conf.WorkerConf), zap.Error(err))
	}
	ids, err := identity.NewStatic(f.Workers)
	if err != nil {
		logger.Fatal("Invalid worker configuration", zap.Error(err))
	}
	logger.Info("Worker identities loaded", zap.Int("count", len(f.Workers)))
	return ids, f.Config
}

func newObserver(conf *config.Config) func(gateway.Event) {
	if !conf.EnableMetrics {
		return nil
	}
	return observeGateway
}
