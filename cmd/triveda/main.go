package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/triveda-health/platform/internal/broadcast"
	"github.com/triveda-health/platform/internal/diagnosis"
	"github.com/triveda-health/platform/internal/effectiveness"
	"github.com/triveda-health/platform/internal/feedback"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/knowledge/legacy"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/patient"
	"github.com/triveda-health/platform/internal/prediction"
	"github.com/triveda-health/platform/internal/recommend"
	"github.com/triveda-health/platform/internal/shared/auth"
	"github.com/triveda-health/platform/internal/shared/config"
	"github.com/triveda-health/platform/internal/shared/database"
	"github.com/triveda-health/platform/internal/shared/events"
	"github.com/triveda-health/platform/internal/shared/metrics"
	secmiddleware "github.com/triveda-health/platform/internal/shared/middleware"
	"github.com/triveda-health/platform/internal/vision"
)

// App holds the long-lived application dependencies
type App struct {
	Config  *config.Config
	DB      *database.DB
	Journal *events.Journal
	Store   *knowledge.Store
}

func main() {
	ctx := context.Background()

	// .env is a development convenience; absence is not an error
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Database is optional; without it everything runs on in-memory
	// repositories and the built-in seed knowledge
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: database not available: %v\n", err)
		fmt.Println("Running with in-memory repositories...")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Printf("Warning: migration failed: %v\n", err)
		}
	}

	// Event journal is optional
	if cfg.Journal.Enabled {
		journal, err := events.NewJournal(ctx, cfg.Journal)
		if err != nil {
			fmt.Printf("Warning: event journal not available: %v\n", err)
		} else {
			app.Journal = journal
			defer journal.Close()
			fmt.Println("Event journal initialized")
		}
	}

	store, err := buildKnowledgeStore(ctx, app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build knowledge store: %v\n", err)
		os.Exit(1)
	}
	app.Store = store
	for tradition, n := range store.Size() {
		fmt.Printf("Knowledge loaded: %-8s %d records\n", tradition, n)
	}

	// Repositories
	var patients patient.Repository
	var diagnoses diagnosis.Repository
	var recs recommend.Repository
	var feedbackStore feedback.Store
	if app.DB != nil {
		patients = patient.NewPostgresRepository(app.DB.Pool)
		diagnoses = diagnosis.NewPostgresRepository(app.DB.Pool)
		recs = recommend.NewPostgresRepository(app.DB.Pool)
		feedbackStore = feedback.NewPostgresStore(app.DB.Pool)
	} else {
		patients = patient.NewMemoryRepository()
		diagnoses = diagnosis.NewMemoryRepository()
		recs = recommend.NewMemoryRepository()
		feedbackStore = feedback.NewMemoryStore()
	}

	analyzer := effectiveness.NewAnalyzer(feedbackStore, recs,
		effectiveness.WithWindowDays(cfg.Engine.EffectivenessWindowDays),
		effectiveness.WithMinSamples(cfg.Engine.MinConfidenceSamples),
		effectiveness.WithTrendingLimitMax(cfg.Engine.TrendingLimitMax),
	)
	fabric := broadcast.NewFabric(cfg.Engine)

	// Vision provider
	var visionAnalyzer vision.Analyzer
	if cfg.Vision.Enabled && cfg.Vision.APIKey != "" {
		visionAnalyzer = vision.NewAnthropicAnalyzer(cfg.Vision)
		fmt.Println("Vision provider enabled")
	} else {
		fmt.Println("Warning: vision provider disabled; image analyses will degrade")
	}
	extractor := vision.NewExtractor(visionAnalyzer, cfg.Vision)

	service := diagnosis.NewService(diagnosis.Deps{
		Extractor: extractor,
		Engine:    matching.NewEngine(store),
		Composer:  recommend.NewComposer(store),
		Ranker:    prediction.NewRanker(analyzer, patients, feedbackStore, recs),
		Analyzer:  analyzer,
		Patients:  patients,
		Diagnoses: diagnoses,
		Recs:      recs,
		Feedback:  feedbackStore,
		Fabric:    fabric,
		Journal:   journalFor(app),
	})
	service.Start(cfg.Engine.WorkerPoolSize)
	defer service.Stop()

	// The snapshot sweep keeps invalidated effectiveness entries from
	// going stale between requests
	scheduler := cron.New(cron.WithSeconds())
	if _, err := scheduler.AddFunc("*/30 * * * * *", func() {
		analyzer.Sweep(context.Background())
	}); err != nil {
		fmt.Printf("Warning: failed to schedule snapshot sweep: %v\n", err)
	}
	if _, err := scheduler.AddFunc("0 * * * * *", fabric.PurgeExpiredReplays); err != nil {
		fmt.Printf("Warning: failed to schedule replay purge: %v\n", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.MaxBody(16 << 20))
	r.Use(secmiddleware.NewIPRateLimiter(50, 100).Middleware)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		patientHandler := patient.NewHandler(patients)
		r.Mount("/patients", patientHandler.Routes())

		var historian diagnosis.Historian
		if app.Journal != nil {
			historian = app.Journal
		}
		diagnosisHandler := diagnosis.NewHandler(service, analyzer, fabric, historian)
		r.Mount("/", diagnosisHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("Triveda Diagnostic Platform")
	fmt.Println("============================================")
	fmt.Printf("Environment:  %s\n", cfg.Server.Env)
	fmt.Printf("Server:       http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:          http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:       http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Journal:      %v\n", app.Journal != nil)
	fmt.Printf("Vision:       %v\n", visionAnalyzer != nil)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

// buildKnowledgeStore loads the knowledge base: database records when
// available (optionally refreshed from the legacy clinic system first),
// the built-in seed otherwise
func buildKnowledgeStore(ctx context.Context, app *App) (*knowledge.Store, error) {
	if app.DB == nil {
		fmt.Println("Using built-in seed knowledge")
		return knowledge.NewStore(ctx, knowledge.Seed())
	}

	repo := knowledge.NewRepository(app.DB.Pool)

	if app.Config.Legacy.Enabled {
		importer, err := legacy.New(ctx, app.Config.Legacy)
		if err != nil {
			fmt.Printf("Warning: legacy import unavailable: %v\n", err)
		} else {
			defer importer.Close()
			if err := importer.Run(ctx, repo); err != nil {
				fmt.Printf("Warning: legacy import failed: %v\n", err)
			} else {
				fmt.Println("Legacy knowledge import completed")
			}
		}
	}

	store, err := knowledge.NewStore(ctx, repo)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range store.Size() {
		total += n
	}
	if total == 0 {
		fmt.Println("Warning: knowledge tables empty, falling back to seed")
		return knowledge.NewStore(ctx, knowledge.Seed())
	}
	return store, nil
}

func journalFor(app *App) diagnosis.Journal {
	if app.Journal == nil {
		return nil
	}
	return app.Journal
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Triveda Diagnostic Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Journal != nil {
			if err := app.Journal.Health(); err != nil {
				checks["journal"] = "not ready: " + err.Error()
			} else {
				checks["journal"] = "ready"
			}
		} else {
			checks["journal"] = "not configured"
		}

		loaded := 0
		for _, n := range app.Store.Size() {
			loaded += n
		}
		if loaded > 0 {
			checks["knowledge"] = "ready"
		} else {
			checks["knowledge"] = "not ready: no records loaded"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
