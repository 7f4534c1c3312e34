package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/ChrisYZZ/Cei-Noise/internal/airspace"
	"github.com/ChrisYZZ/Cei-Noise/internal/conflict"
	"github.com/ChrisYZZ/Cei-Noise/internal/edge"
	"github.com/ChrisYZZ/Cei-Noise/internal/geo"
	"github.com/ChrisYZZ/Cei-Noise/internal/ingest"
	"github.com/ChrisYZZ/Cei-Noise/internal/metrics"
	"github.com/ChrisYZZ/Cei-Noise/internal/noise"
	"github.com/ChrisYZZ/Cei-Noise/internal/optimizer"
	"github.com/ChrisYZZ/Cei-Noise/internal/risk"
	"github.com/ChrisYZZ/Cei-Noise/internal/route"
	"github.com/ChrisYZZ/Cei-Noise/internal/store"
	"github.com/ChrisYZZ/Cei-Noise/internal/stream"
	"github.com/ChrisYZZ/Cei-Noise/pkg/models"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds application configuration.
type Config struct {
	// Server
	HTTPAddr string
	HTTPPort int

	// Kafka (optional; the service runs standalone without a broker)
	KafkaBroker  string
	KafkaGroupID string
	EnableKafka  bool

	// Analysis
	NoiseGridSizeM float64
	TrafficDensity float64
	SeedRoutes     bool

	// Edge deployment configuration
	Edge edge.Config
}

func loadConfig() Config {
	// Load edge configuration from environment
	edgeCfg := edge.LoadFromEnv()

	cfg := Config{
		HTTPAddr:       getEnv("HTTP_ADDR", "0.0.0.0"),
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		KafkaBroker:    getEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", ""),
		EnableKafka:    getEnvBool("ENABLE_KAFKA", false),
		NoiseGridSizeM: getEnvFloat("NOISE_GRID_SIZE_M", noise.DefaultGridSizeM),
		TrafficDensity: getEnvFloat("TRAFFIC_DENSITY", 5),
		SeedRoutes:     getEnvBool("SEED_ROUTES", true),
		Edge:           edgeCfg,
	}

	// Apply edge runtime settings (GOMAXPROCS, GC, memory limit)
	cfg.Edge.Apply()

	log.Printf("Edge configuration: mode=%s memory_limit=%dMB gc=%d%% retention=%dh archiving=%v",
		cfg.Edge.MemoryMode, cfg.Edge.MemoryLimitMB, cfg.Edge.GCPercent,
		cfg.Edge.ReportRetentionHours, cfg.Edge.EnableArchiving)

	return cfg
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

// App holds all application components.
type App struct {
	config   Config
	store    *store.Store
	detector *conflict.Detector
	riskCalc *risk.Calculator
	hub      *stream.Hub
	server   *http.Server

	// Kafka components (nil unless EnableKafka)
	consumer  *ingest.Processor
	publisher *ingest.Publisher

	// Edge components
	memoryMonitor      *edge.MemoryMonitor
	pressureHandler    *edge.PressureHandler
	expirationManager  *edge.ExpirationManager
	routeLimitEnforcer *edge.RouteLimitEnforcer
	archiver           *edge.Archiver
	startup            *edge.StartupOptimizer

	// Compressed reports shed from the cache, kept while archiving is on.
	archiveMu       sync.Mutex
	archivedReports map[string][]byte

	startTime time.Time
}

// NewApp creates a new application instance.
func NewApp(cfg Config) (*App, error) {
	buffers := cfg.Edge.BufferSizes()

	detector, err := conflict.New()
	if err != nil {
		return nil, fmt.Errorf("building detector: %w", err)
	}

	app := &App{
		config:    cfg,
		detector:  detector,
		riskCalc:  risk.NewCalculator(detector),
		hub:       stream.NewHub(),
		startup:   edge.NewStartupOptimizer(cfg.Edge),
		startTime: time.Now(),
	}

	storeOpts := []store.Option{
		store.WithCapacity(buffers.RouteSlab, buffers.ReportCache),
	}
	if cfg.Edge.MaxRoutes > 0 {
		storeOpts = append(storeOpts, store.WithMaxRoutes(cfg.Edge.MaxRoutes))
	}
	storeOpts = append(storeOpts,
		store.WithRouteAddedCallback(app.onRouteAdded),
		store.WithRouteRemovedCallback(app.onRouteRemoved),
		store.WithReportEvictedCallback(app.onReportEvicted),
	)
	app.store = store.New(storeOpts...)

	app.setupEdgeComponents()

	if cfg.EnableKafka {
		reader := ingest.NewSubmissionReader(cfg.KafkaBroker, cfg.KafkaGroupID)
		app.consumer = ingest.NewProcessor(reader, ingest.DefaultProcessorConfig(), app.handleSubmissions)

		writer := ingest.NewAlertWriter(cfg.KafkaBroker)
		app.publisher = ingest.NewPublisher(writer, nil)
	}

	return app, nil
}

// setupEdgeComponents initializes memory monitoring, expiration, and degradation.
func (a *App) setupEdgeComponents() {
	a.memoryMonitor = edge.NewMemoryMonitor(a.config.Edge)

	if a.config.Edge.EnableDegradation {
		a.pressureHandler = edge.NewPressureHandler(a.memoryMonitor, a.config.Edge)
		a.pressureHandler.SetReportCount(a.store.ReportCount)
		a.pressureHandler.SetEvictCallback(func(count int) {
			evicted := a.store.EvictReports(count)
			if evicted > 0 {
				log.Printf("Evicted %d cached reports due to memory pressure", evicted)
			}
		})

		a.memoryMonitor.AddListener(func(oldState, newState edge.MemoryState, stats edge.MemoryStats) {
			if newState >= edge.MemoryStateCritical && oldState < edge.MemoryStateCritical {
				log.Printf("Memory pressure: %s -> %s, shedding report cache", oldState, newState)
				a.pressureHandler.HandlePressure()
			}
			if newState >= edge.MemoryStateEmergency {
				runtime.GC()
			}
		})
	}

	if a.config.Edge.ReportRetentionHours > 0 {
		a.expirationManager = edge.NewExpirationManager(a.config.Edge)
		a.expirationManager.SetCallback(func(keys []string) int {
			return a.store.ExpireReports(a.config.Edge.RetentionDuration())
		})
	}

	if a.config.Edge.MaxRoutes > 0 {
		a.routeLimitEnforcer = edge.NewRouteLimitEnforcer(a.config.Edge)
		a.routeLimitEnforcer.SetEvictCallback(func(names []string) int {
			removed := 0
			for _, name := range names {
				if err := a.store.Remove(name); err == nil {
					removed++
				}
			}
			if removed > 0 {
				log.Printf("Removed %d routes due to route limit", removed)
			}
			return removed
		})
	}

	if a.config.Edge.EnableArchiving {
		archiver, err := edge.NewArchiver(a.config.Edge)
		if err != nil {
			log.Printf("Archiver init failed, continuing without archiving: %v", err)
		} else {
			a.archiver = archiver
			a.archivedReports = make(map[string][]byte, a.config.Edge.BufferSizes().ReportCache)
		}
	}
}

// onReportEvicted compresses reports shed from the cache so they survive
// eviction while archiving is enabled.
func (a *App) onReportEvicted(key string, data []byte) {
	if a.archiver == nil {
		return
	}

	blob := a.archiver.CompressBytes(data)

	a.archiveMu.Lock()
	defer a.archiveMu.Unlock()
	if _, exists := a.archivedReports[key]; !exists && len(a.archivedReports) >= a.config.Edge.BufferSizes().ReportCache {
		// Shelf is full; drop an arbitrary entry to stay bounded.
		for k := range a.archivedReports {
			delete(a.archivedReports, k)
			break
		}
	}
	a.archivedReports[key] = blob
}

// archivedReport returns the compressed archive of an evicted report.
func (a *App) archivedReport(key string) ([]byte, bool) {
	a.archiveMu.Lock()
	defer a.archiveMu.Unlock()
	blob, ok := a.archivedReports[key]
	return blob, ok
}

func (a *App) archivedReportCount() int {
	a.archiveMu.Lock()
	defer a.archiveMu.Unlock()
	return len(a.archivedReports)
}

// onRouteAdded tracks new routes for limit enforcement and evicts the oldest
// when the store fills up.
func (a *App) onRouteAdded(name string) {
	metrics.StoredRoutes.Set(float64(a.store.Len()))

	if a.routeLimitEnforcer == nil {
		return
	}
	a.routeLimitEnforcer.RecordRoute(name, time.Now())
	if a.routeLimitEnforcer.ShouldEvict() {
		a.routeLimitEnforcer.EvictOldest(1)
	}
}

func (a *App) onRouteRemoved(name string) {
	metrics.StoredRoutes.Set(float64(a.store.Len()))

	if a.routeLimitEnforcer != nil {
		a.routeLimitEnforcer.RemoveRoute(name)
	}
}

// handleSubmissions stores routes arriving from the submissions topic and
// rescans for conflicts.
func (a *App) handleSubmissions(ctx context.Context, payloads []models.RoutePayload) error {
	if a.memoryMonitor != nil && a.memoryMonitor.ShouldRejectWrites() {
		log.Printf("Rejecting batch of %d routes due to memory pressure", len(payloads))
		return nil
	}

	added := 0
	for _, p := range payloads {
		metrics.IngestMessages.Inc()
		if _, err := a.store.Add(p.ToRoute()); err != nil {
			metrics.IngestErrors.Inc()
			log.Printf("Rejected route %q: %v", p.Name, err)
			continue
		}
		added++
	}

	if added > 0 {
		a.scanAndAlert(ctx)
	}
	return nil
}

// scanAndAlert runs trajectory conflict detection over all stored routes and
// fans detected events out as alerts.
func (a *App) scanAndAlert(ctx context.Context) {
	start := time.Now()
	events, err := a.detector.Detect(ctx, route.SegmentsOf(a.store.List()))
	metrics.DetectLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysisErrors.Inc()
		log.Printf("Conflict scan failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	metrics.ConflictsFound.Add(int64(len(events)))
	for _, ev := range events {
		alert := ingest.AlertFromEvent(ev)
		a.hub.Broadcast(alert)

		if a.publisher != nil {
			if err := a.publisher.PublishAlert(ctx, alert); err != nil {
				log.Printf("Alert publish failed: %v", err)
				continue
			}
			metrics.AlertsSent.Inc()
		}
	}
}

// Run starts the application.
func (a *App) Run(ctx context.Context) error {
	log.Println("Cei-Noise starting...")
	log.Printf("Configuration: addr=%s:%d kafka=%v grid=%.0fm",
		a.config.HTTPAddr, a.config.HTTPPort, a.config.EnableKafka, a.config.NoiseGridSizeM)

	if a.config.SeedRoutes {
		a.startup.AddTask(edge.StartupTask{
			Name:  "seed-routes",
			Phase: edge.PhaseSeedRoutes,
			Fn: func(ctx context.Context) error {
				return a.seedRoutes()
			},
		})
	}

	// Warm the conflict report cache so the first request doesn't pay for the
	// full scan.
	a.startup.AddTask(edge.StartupTask{
		Name:     "warm-conflict-report",
		Phase:    edge.PhaseWarmCache,
		Optional: true,
		Fn: func(ctx context.Context) error {
			_, err := a.conflictReport(ctx)
			return err
		},
	})

	a.startup.AddTask(edge.StartupTask{
		Name:  "start-services",
		Phase: edge.PhaseStartServices,
		Fn: func(taskCtx context.Context) error {
			a.memoryMonitor.Start(ctx)
			if a.expirationManager != nil {
				a.expirationManager.Start(ctx)
			}
			a.startHTTPServer()
			if a.consumer != nil {
				if err := a.consumer.Start(ctx); err != nil {
					return fmt.Errorf("starting consumer: %w", err)
				}
				log.Printf("Consuming route submissions from %s", a.config.KafkaBroker)
			}
			return nil
		},
	})

	if err := a.startup.Run(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	log.Printf("Cei-Noise ready. %d routes stored", a.store.Len())

	// Wait for shutdown signal
	<-ctx.Done()
	log.Println("Shutting down...")

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	if a.consumer != nil {
		a.consumer.Stop()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Printf("Publisher close error: %v", err)
		}
	}

	a.hub.Close()
	a.memoryMonitor.Stop()
	if a.expirationManager != nil {
		a.expirationManager.Stop()
	}
	if a.archiver != nil {
		a.archiver.Close()
	}

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	log.Println("Cei-Noise stopped")
	return nil
}

// ---------------------------------------------------------------------------
// HTTP Server
// ---------------------------------------------------------------------------

func (a *App) startHTTPServer() {
	r := mux.NewRouter()

	// Health endpoints
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/live", a.handleLive).Methods(http.MethodGet)

	// Metrics endpoint
	r.HandleFunc("/metrics", a.handleMetrics).Methods(http.MethodGet)

	// API endpoints
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/routes", a.handleListRoutes).Methods(http.MethodGet)
	api.HandleFunc("/routes", a.handleSubmitRoute).Methods(http.MethodPost)
	api.HandleFunc("/noise", a.handleNoise).Methods(http.MethodGet)
	api.HandleFunc("/conflicts", a.handleConflicts).Methods(http.MethodGet)
	api.HandleFunc("/ntsc", a.handleNTSC).Methods(http.MethodGet)
	api.HandleFunc("/airspace", a.handleAirspace).Methods(http.MethodGet)
	api.HandleFunc("/optimize", a.handleOptimize).Methods(http.MethodGet)
	api.HandleFunc("/reports/archived", a.handleArchivedReport).Methods(http.MethodGet)
	api.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	// Alert stream
	r.HandleFunc("/ws/alerts", a.handleAlertStream)

	addr := fmt.Sprintf("%s:%d", a.config.HTTPAddr, a.config.HTTPPort)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.metricsMiddleware(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := a.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()
}

func (a *App) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPRequests.Inc()

		next.ServeHTTP(w, r)

		metrics.HTTPLatency.Observe(time.Since(start).Seconds())
	})
}

// ---------------------------------------------------------------------------
// Health Handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(a.startTime).String(),
		"version":   "1.0.0",
	}

	if !a.startup.IsReady() {
		health["status"] = "starting"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(health)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.startup.IsReady() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

func (a *App) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

// ---------------------------------------------------------------------------
// Metrics Handler
// ---------------------------------------------------------------------------

func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.StoredRoutes.Set(float64(a.store.Len()))
	metrics.CachedReports.Set(float64(a.store.ReportCount()))
	metrics.StreamClients.Set(float64(a.hub.ClientCount()))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(metrics.Default().Export()))
}

// ---------------------------------------------------------------------------
// API Handlers
// ---------------------------------------------------------------------------

func (a *App) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	metrics.AnalysisRequests.Inc()

	routes := a.store.List()
	payloads := make([]models.RoutePayload, len(routes))
	for i, rt := range routes {
		payloads[i] = models.FromRoute(rt)
	}
	respondJSON(w, payloads)
}

func (a *App) handleSubmitRoute(w http.ResponseWriter, r *http.Request) {
	metrics.AnalysisRequests.Inc()

	if a.memoryMonitor.ShouldRejectWrites() {
		http.Error(w, "rejecting writes under memory pressure", http.StatusServiceUnavailable)
		return
	}

	var payload models.RoutePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := a.store.Add(payload.ToRoute())
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	go a.scanAndAlert(context.Background())

	w.WriteHeader(http.StatusCreated)
	respondJSON(w, map[string]any{
		"id":   rec.ID,
		"name": rec.Route.Name,
	})
}

func (a *App) handleNoise(w http.ResponseWriter, r *http.Request) {
	metrics.AnalysisRequests.Inc()

	routes := a.store.List()
	if len(routes) == 0 {
		http.Error(w, "no routes stored", http.StatusNotFound)
		return
	}

	index := 0
	if v := r.URL.Query().Get("index"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(routes) {
			index = n
		}
	}

	hm, err := noise.HeatmapForRoute(r.Context(), routes[index], a.config.NoiseGridSizeM)
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, heatmapPayload(hm))
}

func heatmapPayload(hm *noise.Heatmap) models.HeatmapPayload {
	points := make([]models.HeatmapPointPayload, len(hm.Points))
	for i, p := range hm.Points {
		points[i] = models.HeatmapPointPayload{
			Longitude: p.Lon,
			Latitude:  p.Lat,
			Noise:     p.Noise,
			Value:     p.Value,
		}
	}
	return models.HeatmapPayload{
		RouteName: hm.RouteName,
		GridSizeM: hm.GridSizeM,
		MinNoise:  hm.MinNoise,
		MaxNoise:  hm.MaxNoise,
		Points:    points,
	}
}

// conflictReport returns the cached waypoint proximity report, computing and
// caching it on miss.
func (a *App) conflictReport(ctx context.Context) ([]byte, error) {
	if data, _, ok := a.store.Report("conflicts"); ok {
		return data, nil
	}

	start := time.Now()
	report, err := a.detector.ScanRoutes(ctx, a.store.List())
	metrics.DetectLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.ConflictsFound.Add(int64(report.TotalConflicts))

	data, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}

	a.store.CacheReport("conflicts", data)
	if a.expirationManager != nil {
		a.expirationManager.RecordReportNow("conflicts")
	}
	return data, nil
}

func (a *App) handleConflicts(w http.ResponseWriter, r *http.Request) {
	metrics.AnalysisRequests.Inc()

	data, err := a.conflictReport(r.Context())
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (a *App) handleNTSC(w http.ResponseWriter, r *http.Request) {
	metrics.AnalysisRequests.Inc()

	start := time.Now()
	result, err := a.riskCalc.ComputeNTSCForRoutes(r.Context(), a.store.List())
	metrics.DetectLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, result)
}

func (a *App) handleAirspace(w http.ResponseWriter, r *http.Request) {
	metrics.AnalysisRequests.Inc()

	routes := a.store.List()

	estimate, err := airspace.ConflictProbability(routes, a.config.TrafficDensity)
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	capacities := make([]map[string]any, 0, len(routes))
	for _, rt := range routes {
		capacity, err := airspace.RouteCapacity(rt)
		if err != nil {
			continue
		}
		capacities = append(capacities, map[string]any{
			"name":     rt.Name,
			"capacity": capacity,
		})
	}

	respondJSON(w, map[string]any{
		"conflict_probability": estimate,
		"route_capacities":     capacities,
		"recommendations":      airspaceRecommendations(estimate.Probability),
	})
}

func airspaceRecommendations(conflictProb float64) []string {
	recs := []string{}
	if conflictProb > 0.3 {
		recs = append(recs, "increase route spacing or adopt time-sliced flight windows")
	}
	if conflictProb > 0.5 {
		recs = append(recs, "replan crossing route segments to reduce intersections")
	}
	return recs
}

func (a *App) handleOptimize(w http.ResponseWriter, r *http.Request) {
	metrics.AnalysisRequests.Inc()

	q := r.URL.Query()
	start, err1 := parsePoint(q.Get("start_lon"), q.Get("start_lat"))
	end, err2 := parsePoint(q.Get("end_lon"), q.Get("end_lat"))
	if err1 != nil || err2 != nil {
		http.Error(w, "start_lon, start_lat, end_lon, end_lat are required floats", http.StatusBadRequest)
		return
	}

	optimized, err := optimizer.MatrixRoute("optimized", start, end, optimizer.Params{})
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Obstacle inputs come from the caller in a full deployment; the open API
	// assesses against a clear corridor.
	safety, err := optimizer.ValidateSafety(optimized, nil)
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	capacity, err := airspace.RouteCapacity(optimized)
	if err != nil {
		metrics.AnalysisErrors.Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]any{
		"optimized_path":    models.FromRoute(optimized),
		"safety_assessment": safety,
		"capacity_metrics":  capacity,
	})
}

func parsePoint(lonStr, latStr string) (geo.Point, error) {
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return geo.Point{}, err
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return geo.Point{}, err
	}
	return geo.Point{Lon: lon, Lat: lat}, nil
}

func (a *App) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	a.hub.ServeWS(w, r)
}

// handleArchivedReport serves a report that was evicted from the cache and
// kept in compressed form.
func (a *App) handleArchivedReport(w http.ResponseWriter, r *http.Request) {
	if a.archiver == nil {
		http.Error(w, `{"error": "archiving disabled"}`, http.StatusNotFound)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, `{"error": "missing key parameter"}`, http.StatusBadRequest)
		return
	}

	blob, ok := a.archivedReport(key)
	if !ok {
		http.Error(w, `{"error": "no archived report for key"}`, http.StatusNotFound)
		return
	}

	data, err := a.archiver.DecompressBytes(blob)
	if err != nil {
		log.Printf("Archived report %q decompress failed: %v", key, err)
		http.Error(w, `{"error": "archive corrupted"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := map[string]any{
		"store": map[string]any{
			"routes":         a.store.Len(),
			"cached_reports": a.store.ReportCount(),
		},
		"stream": map[string]any{
			"clients": a.hub.ClientCount(),
		},
		"memory": map[string]any{
			"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
			"heap_alloc_mb": float64(memStats.HeapAlloc) / 1024 / 1024,
			"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
			"gc_runs":       memStats.NumGC,
		},
		"runtime": map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"gomaxprocs": runtime.GOMAXPROCS(0),
			"uptime":     time.Since(a.startTime).String(),
		},
		"edge": map[string]any{
			"memory_mode":     a.config.Edge.MemoryMode.String(),
			"memory_limit_mb": a.config.Edge.MemoryLimitMB,
			"gc_percent":      a.config.Edge.GCPercent,
			"retention_hours": a.config.Edge.ReportRetentionHours,
			"max_routes":      a.config.Edge.MaxRoutes,
			"archiving":       a.config.Edge.EnableArchiving,
			"degradation":     a.config.Edge.EnableDegradation,
			"memory_state":    a.memoryMonitor.State().String(),
		},
	}

	if a.consumer != nil {
		stats["ingest"] = a.consumer.Metrics().Snapshot()
	}
	if a.publisher != nil {
		stats["publisher"] = a.publisher.Metrics().Snapshot()
	}
	if a.expirationManager != nil {
		expStats := a.expirationManager.Stats()
		stats["edge"].(map[string]any)["tracked_reports"] = expStats.TrackedReports
		stats["edge"].(map[string]any)["expired_total"] = expStats.TotalExpired
	}
	if a.archiver != nil {
		stats["archive"] = a.archiver.Stats()
		stats["archived_reports"] = a.archivedReportCount()
	}

	respondJSON(w, stats)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// ---------------------------------------------------------------------------
// Seed Data
// ---------------------------------------------------------------------------

// seedRoutes loads the five Guangzhou sample routes.
func (a *App) seedRoutes() error {
	routes := []route.Route{
		{
			Name:        "CBD-Express",
			Description: "Business express delivery across the Zhujiang New Town high-rise district",
			BaseNoise:   82,
			Path: []route.Waypoint{
				{Point: geo.Point{Lon: 113.3234, Lat: 23.1367, Height: 120}, Time: 0},
				{Point: geo.Point{Lon: 113.3240, Lat: 23.1320, Height: 120}, Time: 60},
				{Point: geo.Point{Lon: 113.3245, Lat: 23.1280, Height: 120}, Time: 120},
				{Point: geo.Point{Lon: 113.3248, Lat: 23.1240, Height: 120}, Time: 180},
				{Point: geo.Point{Lon: 113.3250, Lat: 23.1200, Height: 120}, Time: 240},
				{Point: geo.Point{Lon: 113.3248, Lat: 23.1160, Height: 120}, Time: 300},
				{Point: geo.Point{Lon: 113.3245, Lat: 23.1120, Height: 120}, Time: 360},
				{Point: geo.Point{Lon: 113.3244, Lat: 23.1066, Height: 120}, Time: 420},
			},
		},
		{
			Name:        "Hospital-Emergency-Link",
			Description: "Rapid medical supply and sample transfer between hospitals",
			BaseNoise:   78,
			Path: []route.Waypoint{
				{Point: geo.Point{Lon: 113.2590, Lat: 23.1283, Height: 150}, Time: 0},
				{Point: geo.Point{Lon: 113.2650, Lat: 23.1285, Height: 150}, Time: 30},
				{Point: geo.Point{Lon: 113.2710, Lat: 23.1288, Height: 150}, Time: 60},
				{Point: geo.Point{Lon: 113.2770, Lat: 23.1292, Height: 150}, Time: 90},
				{Point: geo.Point{Lon: 113.2830, Lat: 23.1298, Height: 150}, Time: 120},
				{Point: geo.Point{Lon: 113.2890, Lat: 23.1305, Height: 150}, Time: 150},
				{Point: geo.Point{Lon: 113.2950, Lat: 23.1311, Height: 150}, Time: 180},
			},
		},
		{
			Name:        "Airport-Port-Logistics",
			Description: "Long-haul cargo corridor from Baiyun Airport to Huangpu Port",
			BaseNoise:   85,
			Path: []route.Waypoint{
				{Point: geo.Point{Lon: 113.3089, Lat: 23.3924, Height: 200}, Time: 0},
				{Point: geo.Point{Lon: 113.3200, Lat: 23.3600, Height: 200}, Time: 120},
				{Point: geo.Point{Lon: 113.3300, Lat: 23.3300, Height: 200}, Time: 240},
				{Point: geo.Point{Lon: 113.3400, Lat: 23.3000, Height: 200}, Time: 360},
				{Point: geo.Point{Lon: 113.3500, Lat: 23.2700, Height: 200}, Time: 480},
				{Point: geo.Point{Lon: 113.3600, Lat: 23.2400, Height: 200}, Time: 600},
				{Point: geo.Point{Lon: 113.3700, Lat: 23.2100, Height: 200}, Time: 720},
				{Point: geo.Point{Lon: 113.3800, Lat: 23.1800, Height: 200}, Time: 840},
				{Point: geo.Point{Lon: 113.3900, Lat: 23.1500, Height: 200}, Time: 960},
				{Point: geo.Point{Lon: 113.4000, Lat: 23.1200, Height: 200}, Time: 1080},
				{Point: geo.Point{Lon: 113.4589, Lat: 23.0967, Height: 200}, Time: 1200},
			},
		},
		{
			Name:        "University-Town-Patrol",
			Description: "Campus safety patrol loop over the education district",
			BaseNoise:   75,
			Path: []route.Waypoint{
				{Point: geo.Point{Lon: 113.3984, Lat: 23.0588, Height: 80}, Time: 0},
				{Point: geo.Point{Lon: 113.4000, Lat: 23.0600, Height: 80}, Time: 60},
				{Point: geo.Point{Lon: 113.4020, Lat: 23.0620, Height: 80}, Time: 120},
				{Point: geo.Point{Lon: 113.4040, Lat: 23.0640, Height: 80}, Time: 180},
				{Point: geo.Point{Lon: 113.4060, Lat: 23.0660, Height: 80}, Time: 240},
				{Point: geo.Point{Lon: 113.4040, Lat: 23.0680, Height: 80}, Time: 300},
				{Point: geo.Point{Lon: 113.4020, Lat: 23.0660, Height: 80}, Time: 360},
				{Point: geo.Point{Lon: 113.4000, Lat: 23.0640, Height: 80}, Time: 420},
				{Point: geo.Point{Lon: 113.3984, Lat: 23.0588, Height: 80}, Time: 480},
			},
		},
		{
			Name:        "Old-Town-Heritage-Loop",
			Description: "Inspection circuit over the historic building preservation zone",
			BaseNoise:   76,
			Path: []route.Waypoint{
				{Point: geo.Point{Lon: 113.2507, Lat: 23.1307, Height: 60}, Time: 0},
				{Point: geo.Point{Lon: 113.2520, Lat: 23.1320, Height: 60}, Time: 60},
				{Point: geo.Point{Lon: 113.2540, Lat: 23.1340, Height: 60}, Time: 120},
				{Point: geo.Point{Lon: 113.2560, Lat: 23.1360, Height: 60}, Time: 180},
				{Point: geo.Point{Lon: 113.2580, Lat: 23.1340, Height: 60}, Time: 240},
				{Point: geo.Point{Lon: 113.2560, Lat: 23.1320, Height: 60}, Time: 300},
				{Point: geo.Point{Lon: 113.2540, Lat: 23.1300, Height: 60}, Time: 360},
			},
		},
	}

	for _, rt := range routes {
		if _, err := a.store.Add(rt); err != nil {
			return fmt.Errorf("seeding route %q: %w", rt.Name, err)
		}
	}

	log.Printf("Seeded %d routes", len(routes))
	return nil
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg := loadConfig()

	// Create and run application
	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Initialization error: %v", err)
	}
	if err := app.Run(ctx); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
