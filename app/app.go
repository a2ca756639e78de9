// Package app implements GsaCommunicationHandler (§4, §5): the top-level
// process that owns configuration, the journal, the watchdog and
// shutdown coordinators, the push pipeline, and the two HTTP listeners
// (content-serving and dashboard) an adaptor deployment exposes.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/contentbridge/adaptor/adaptor"
	"github.com/contentbridge/adaptor/config"
	"github.com/contentbridge/adaptor/dashboard"
	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/feed"
	"github.com/contentbridge/adaptor/httpserve"
	"github.com/contentbridge/adaptor/journal"
	"github.com/contentbridge/adaptor/logging"
	"github.com/contentbridge/adaptor/push"
	"github.com/contentbridge/adaptor/saml"
	"github.com/contentbridge/adaptor/session"
	"github.com/contentbridge/adaptor/shutdown"
	"github.com/contentbridge/adaptor/transform"
	"github.com/contentbridge/adaptor/watchdog"
)

// Application wires together every framework component for one running
// adaptor process, generalizing the teacher's single echo server plus
// signal-driven shutdown into the content-serving listener, the
// dashboard listener, and the scheduled push jobs this core's §5
// lifecycle describes.
type Application struct {
	Config   *config.Config
	Journal  *journal.Journal
	Watchdog *watchdog.Watchdog
	Shutdown *shutdown.Waiter

	Codec       docid.Codec
	Sender      *feed.Sender
	PushTarget  *push.DocIdSender
	Async       *push.AsyncDocIdSender
	Sessions    *session.Manager
	SAMLAuthn   *saml.AuthnService
	SAMLAuthz   *saml.AuthzHandler
	History     *journal.PostgresStore
	ContentPort string
	DashPort    string

	adaptorImpl adaptor.Adaptor

	contentServer *http.Server
	dashboard     *echo.Echo

	stopSchedules chan struct{}
	wg            sync.WaitGroup
}

func getBool(cfg *config.Config, key string) bool {
	v, _ := cfg.GetValue(key)
	b, _ := strconv.ParseBool(v)
	return b
}

func getInt(cfg *config.Config, key string, fallback int) int {
	v, _ := cfg.GetValue(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(cfg *config.Config, secondsKey string, fallback time.Duration) time.Duration {
	n := getInt(cfg, secondsKey, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// asStartupTransient recasts an UNAVAILABLE component-construction failure
// (the S3 feed archive, SAML keypair generation, the Postgres journal
// store) as STARTUP_TRANSIENT, so cmd/adaptor's retry loop knows it is
// worth trying again rather than a configuration mistake that retrying
// cannot fix.
func asStartupTransient(err error) error {
	if errkind.Is(err, errkind.Unavailable) {
		return errkind.Wrap(errkind.StartupTransient, "app: dependency unavailable at startup", err)
	}
	return err
}

// Build validates cfg and constructs every component an Application needs
// to serve ad, but does not start any listener or scheduled job — that is
// Start's job, so a caller can inspect or override wiring between Build
// and Start if needed (tests do exactly this).
func Build(cfg *config.Config, ad adaptor.Adaptor) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scheme := "http"
	if getBool(cfg, "server.secure") {
		scheme = "https"
	}
	hostname, _ := cfg.GetValue("server.hostname")
	port, _ := cfg.GetValue("server.port")
	dashPort, _ := cfg.GetValue("server.dashboardPort")

	codec := docid.Codec{Base: fmt.Sprintf("%s://%s/doc", scheme, hostname)}

	gsaHostname, _ := cfg.GetValue("gsa.hostname")
	feedPort := getInt(cfg, "feed.port", 19900)
	sender := feed.NewSender(fmt.Sprintf("http://%s:%d/xmlfeed", gsaHostname, feedPort), nil)

	archiver, err := buildArchiver(cfg)
	if err != nil {
		return nil, asStartupTransient(err)
	}

	j := journal.New(nil)

	feedName, _ := cfg.GetValue("feed.name")
	gsaVersion, _ := cfg.GetValue("gsa.version")
	pushTarget := &push.DocIdSender{
		Sender:              sender,
		Codec:               codec,
		Journal:             j,
		Archiver:            archiver,
		DatasourceName:      feedName,
		MaxUrls:             getInt(cfg, "feed.maxUrls", push.DefaultMaxUrls),
		MarkAllDocsAsPublic: getBool(cfg, "adaptor.markAllDocsAsPublic"),
		CompressFeeds:       getBool(cfg, "feed.compress"),
		IndexerVersion:      gsaVersion,
		OnException:         push.RetryNTimes(3),
	}

	asyncSender := push.NewAsyncDocIdSender(
		pushTarget,
		getInt(cfg, "async.queueSize", 1000),
		getInt(cfg, "async.maxBatch", 50),
		getDuration(cfg, "async.maxLatencySeconds", 5*time.Second),
	)

	transformPipeline, err := buildTransformPipeline(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := buildSessions(cfg)
	if err != nil {
		return nil, err
	}

	authn, authz, err := buildSAML(cfg, ad, codec, sessions)
	if err != nil {
		return nil, asStartupTransient(err)
	}

	var history *journal.PostgresStore
	if dsn, _ := cfg.GetValue("journal.postgresDsn"); dsn != "" {
		history, err = journal.OpenPostgresStore(dsn)
		if err != nil {
			return nil, asStartupTransient(err)
		}
	}

	var fullAccessHosts []string
	if raw, _ := cfg.GetValue("server.fullAccessHosts"); raw != "" {
		fullAccessHosts = strings.Split(raw, ",")
		for i := range fullAccessHosts {
			fullAccessHosts[i] = strings.TrimSpace(fullAccessHosts[i])
		}
	}
	indexerUA, _ := cfg.GetValue("adaptor.useragent.indexer")
	secmgrUA, _ := cfg.GetValue("adaptor.useragent.secmgr")

	handler := &httpserve.Handler{
		Adaptor:          ad,
		Codec:            codec,
		FullAccessHosts:  fullAccessHosts,
		IndexerUserAgent: indexerUA,
		SecMgrUserAgent:  secmgrUA,
		HeaderTimeout:    getDuration(cfg, "header.timeoutSeconds", 30*time.Second),
		ContentTimeout:   getDuration(cfg, "content.timeoutSeconds", 5*time.Minute),
		Watchdog:         watchdog.New(),
		ShutdownWaiter:   shutdown.New(),
		Journal:          j,
		Transform:        transformPipeline,
		SendDocControls:  true,
	}
	if authn != nil {
		handler.Authn = authn
	}

	app := &Application{
		Config:      cfg,
		Journal:     j,
		Watchdog:    handler.Watchdog,
		Shutdown:    handler.ShutdownWaiter,
		Codec:       codec,
		Sender:      sender,
		PushTarget:  pushTarget,
		Async:       asyncSender,
		Sessions:    sessions,
		SAMLAuthn:   authn,
		SAMLAuthz:   authz,
		History:     history,
		ContentPort: port,
		DashPort:    dashPort,
		adaptorImpl: ad,
	}

	heartbeatDocID, _ := cfg.GetValue("adaptor.heartbeatDocId")
	probeURL, err := url.Parse(codec.Encode(docid.New(heartbeatDocID)))
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfiguration, "app: build heartbeat probe path", err)
	}
	heartbeat := &httpserve.HeartbeatHandler{Inner: handler, ProbePath: probeURL.Path}

	mux := http.NewServeMux()
	mux.Handle("/doc/", handler)
	mux.Handle("/heartbeat", heartbeat)
	if authn != nil {
		mux.Handle("/saml-assertion-consumer", authn)
		mux.HandleFunc(saml.InitiatePath, authn.InitiateHandler)
	}
	if authz != nil {
		mux.Handle("/saml-authz", authz)
	}
	app.contentServer = &http.Server{Addr: ":" + port, Handler: mux}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	dashboard.New(cfg, j).Register(e)
	app.dashboard = e

	return app, nil
}

func buildArchiver(cfg *config.Config) (push.Archiver, error) {
	bucket, _ := cfg.GetValue("feed.archive.bucket")
	if bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "app: load aws config for feed archive", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return push.NewS3Archiver(client, bucket), nil
}

func buildTransformPipeline(cfg *config.Config) (*transform.Pipeline, error) {
	raw, _ := cfg.GetValue("transform.pipeline")
	if raw == "" {
		return transform.New(), nil
	}
	names := strings.Split(raw, ",")
	required := make(map[string]bool, len(names))
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
		required[names[i]] = true
	}
	return transform.BuildPipeline(names, required, nil)
}

func buildSessions(cfg *config.Config) (*session.Manager, error) {
	addr, _ := cfg.GetValue("session.redis.addr")
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ttl := time.Duration(getInt(cfg, "session.ttlSeconds", 600)) * time.Second
	return session.NewManager(client, "adaptor:session:", ttl), nil
}

// loadOrGenerateKeyPair reads the SP's signing key from
// saml.sp.privateKeyFile when an operator has configured one, so the
// same keypair (and the certificate handed to the IdP out of band)
// survives a restart; with no file configured it falls back to a fresh
// ephemeral RSA-2048 keypair, which only works in deployments that
// don't register a fixed SP certificate with the IdP.
func loadOrGenerateKeyPair(cfg *config.Config) (*saml.KeyPair, error) {
	path, _ := cfg.GetValue("saml.sp.privateKeyFile")
	if path == "" {
		return saml.GenerateKeyPair()
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfiguration, "app: read saml.sp.privateKeyFile", err)
	}
	key, err := config.ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, err
	}
	return &saml.KeyPair{PrivateKey: key, PublicKey: &key.PublicKey}, nil
}

func buildSAML(cfg *config.Config, ad adaptor.Adaptor, codec docid.Codec, sessions *session.Manager) (*saml.AuthnService, *saml.AuthzHandler, error) {
	entityID, _ := cfg.GetValue("saml.sp.entityId")
	if entityID == "" {
		return nil, nil, nil
	}

	keyPair, err := loadOrGenerateKeyPair(cfg)
	if err != nil {
		return nil, nil, err
	}

	hostname, _ := cfg.GetValue("server.hostname")
	scheme := "http"
	if getBool(cfg, "server.secure") {
		scheme = "https"
	}
	idpSSOURL, _ := cfg.GetValue("saml.idp.ssoUrl")
	idpArtifactURL, _ := cfg.GetValue("saml.idp.artifactResolveUrl")
	idpEntityID, _ := cfg.GetValue("saml.idp.entityId")

	sp := &saml.ServiceProvider{
		EntityID:              entityID,
		AssertionConsumerURL:  fmt.Sprintf("%s://%s/saml-assertion-consumer", scheme, hostname),
		IdPSSOURL:             idpSSOURL,
		IdPArtifactResolveURL: idpArtifactURL,
		IdPEntityID:           idpEntityID,
		KeyPair:               keyPair,
	}

	var authn *saml.AuthnService
	if sessions != nil {
		authn = &saml.AuthnService{SP: sp, Sessions: sessions, CookieSecure: getBool(cfg, "server.secure")}
	}

	var authz *saml.AuthzHandler
	if ad.Authorizer != nil {
		host := hostname
		if h, _, err := net.SplitHostPort(hostname); err == nil {
			host = h
		}
		authz = &saml.AuthzHandler{
			Authority:     ad.Authorizer,
			Codec:         codec,
			Issuer:        entityID,
			ContentScheme: scheme,
			ContentHost:   host,
		}
	}
	return authn, authz, nil
}

// Start launches both HTTP listeners, the async push drain worker, the
// config hot-reload watch, and the scheduled full/incremental/group push
// jobs. It returns once the listeners are launched; failures that occur
// while serving are logged, not returned (matching the teacher's
// goroutine-per-server pattern).
func (a *Application) Start(ctx context.Context) error {
	if err := a.Config.EnsureLatestConfigLoaded(); err == nil {
		if watchErr := a.Config.WatchForChanges(); watchErr != nil {
			logging.Logger().WithError(watchErr).Warn("app: config hot-reload unavailable")
		}
	}

	a.Async.Start(ctx)
	a.stopSchedules = make(chan struct{})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logging.Logger().WithField("addr", a.contentServer.Addr).Info("app: content server starting")
		if err := a.contentServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger().WithError(err).Error("app: content server stopped unexpectedly")
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logging.Logger().WithField("addr", ":"+a.DashPort).Info("app: dashboard server starting")
		if err := a.dashboard.Start(":" + a.DashPort); err != nil && err != http.ErrServerClosed {
			logging.Logger().WithError(err).Error("app: dashboard server stopped unexpectedly")
		}
	}()

	a.scheduleJobs(ctx)

	if getBool(a.Config, "adaptor.pushDocIdsOnStartup") && a.adaptorImpl.Lister != nil {
		go a.runFullPush(ctx)
	}

	return nil
}

func (a *Application) scheduleJobs(ctx context.Context) {
	if full, err := parseSchedule(mustGet(a.Config, "adaptor.fullListingSchedule")); err == nil && full > 0 && a.adaptorImpl.Lister != nil {
		s := &scheduler{interval: full, fn: func() { a.runFullPush(ctx) }}
		a.wg.Add(1)
		go func() { defer a.wg.Done(); s.run(a.stopSchedules) }()
	}
	if inc, err := parseSchedule(mustGet(a.Config, "adaptor.incrementalListingSchedule")); err == nil && inc > 0 && a.adaptorImpl.Incremental != nil {
		s := &scheduler{interval: inc, fn: func() { a.runIncrementalPush(ctx) }}
		a.wg.Add(1)
		go func() { defer a.wg.Done(); s.run(a.stopSchedules) }()
	}
	if a.History != nil {
		s := &scheduler{interval: time.Minute, fn: func() {
			if err := a.History.Save(a.Journal.GetSnapshot(), time.Now()); err != nil {
				logging.Logger().WithError(err).Warn("app: persist journal snapshot failed")
			}
		}}
		a.wg.Add(1)
		go func() { defer a.wg.Done(); s.run(a.stopSchedules) }()
	}
}

func mustGet(cfg *config.Config, key string) string {
	v, _ := cfg.GetValue(key)
	return v
}

// runFullPush drives one full-push cycle and resets the journal's
// FullPush status back to IDLE once it lands in a terminal state, so
// the next scheduler tick's RecordStarted (push/push.go) doesn't fail
// with INVALID_STATE per §4.13's {SUCCESS,FAILURE,INTERRUPTION} -> IDLE
// edge.
func (a *Application) runFullPush(ctx context.Context) {
	defer a.Journal.Reset(journal.FullPush)
	if _, _, err := a.PushTarget.PushFullDocIdsFromAdaptor(ctx, a.adaptorImpl.Lister); err != nil {
		logging.WithJob(string(journal.FullPush)).WithError(err).Error("app: full push failed")
	}
}

// runIncrementalPush mirrors runFullPush for the incremental job kind,
// likewise resetting to IDLE at the end of the cycle.
func (a *Application) runIncrementalPush(ctx context.Context) {
	if err := a.Journal.RecordStarted(journal.IncrementalPush); err != nil {
		return
	}
	defer a.Journal.Reset(journal.IncrementalPush)
	err := a.adaptorImpl.Incremental.GetModifiedDocIds(ctx, a.PushTarget)
	resume, hasResume := a.PushTarget.Flush(ctx)
	switch {
	case ctx.Err() != nil:
		_ = a.Journal.RecordInterrupted(journal.IncrementalPush)
	case err != nil:
		_ = a.Journal.RecordFailed(journal.IncrementalPush)
		logging.WithJob(string(journal.IncrementalPush)).WithError(err).Error("app: incremental push failed")
	case hasResume:
		_ = a.Journal.RecordFailed(journal.IncrementalPush)
		logging.WithJob(string(journal.IncrementalPush)).WithField("resumeFrom", resume.String()).
			Warn("app: incremental push left unsent records")
	default:
		_ = a.Journal.RecordSuccessful(journal.IncrementalPush)
	}
}

// Stop drains and stops every component within timeout, per §5's shutdown
// sequence: stop the scheduled jobs, reject new content requests and
// interrupt in-flight ones, stop the async drain worker, close both
// listeners, then stop config reloading and close the journal history
// store. It returns false if the shutdown waiter's deadline was exceeded.
func (a *Application) Stop(timeout time.Duration) bool {
	if a.stopSchedules != nil {
		close(a.stopSchedules)
	}
	clean := a.Shutdown.Shutdown(timeout)

	a.Async.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.contentServer.Shutdown(shutdownCtx); err != nil {
		logging.Logger().WithError(err).Warn("app: content server did not shut down cleanly")
	}
	if err := a.dashboard.Shutdown(shutdownCtx); err != nil {
		logging.Logger().WithError(err).Warn("app: dashboard server did not shut down cleanly")
	}

	a.Config.Stop()
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			logging.Logger().WithError(err).Warn("app: closing journal history store failed")
		}
	}

	a.wg.Wait()
	return clean
}
