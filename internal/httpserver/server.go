package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kioskly/popserver/internal/config"
	"github.com/kioskly/popserver/internal/database"
	"github.com/kioskly/popserver/internal/geo"
	"github.com/kioskly/popserver/internal/metrics"
	"github.com/kioskly/popserver/internal/middleware"
	"github.com/kioskly/popserver/internal/models"
	"github.com/kioskly/popserver/internal/pop"
	"github.com/kioskly/popserver/internal/report"
	"github.com/kioskly/popserver/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Geo     geo.Provider
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// RateLimit is optional; main passes its own instance so it can run the
	// periodic limiter cleanup. When nil one is constructed here.
	RateLimit *middleware.RateLimitMiddleware
}

// Server wraps HTTP handlers and the proof-of-play services.
type Server struct {
	importService *pop.ImportService
	reportService *pop.ReportService
	rollupService *pop.RollupService
	kiosks        storage.KioskRepo
	assets        storage.AssetRepo
	campaigns     storage.CampaignRepo
	logger        *zap.Logger
	config        *config.Config
	metrics       *metrics.Metrics
}

// importResponse is the ingestion endpoint's success body.
type importResponse struct {
	OK           bool       `json:"ok"`
	Inserted     int        `json:"inserted"`
	Dropped      int        `json:"dropped"`
	LastPlayedAt *time.Time `json:"lastPlayedAt"`
}

// NewServer constructs the full http.Handler: routes plus the middleware
// chain (recovery, logging, rate limiting, API key auth).
func NewServer(deps *Dependencies) http.Handler {
	// Initialize repositories. Without Postgres everything runs on the
	// in-memory store so the service stays usable in development.
	var (
		kiosks      storage.KioskRepo
		assets      storage.AssetRepo
		campaigns   storage.CampaignRepo
		plays       storage.PlayRepo
		batches     storage.BatchRepo
		rollupStore storage.RollupStore
		orgResolver storage.OrgResolver
	)

	if deps.DB != nil {
		kiosks = storage.NewPostgresKioskRepo(deps.DB.Pool)
		assets = storage.NewPostgresAssetRepo(deps.DB.Pool)
		campaigns = storage.NewPostgresCampaignRepo(deps.DB.Pool)
		plays = storage.NewPostgresPlayRepo(deps.DB.Pool)
		batches = storage.NewPostgresBatchRepo(deps.DB.Pool)
		rollupStore = storage.NewPostgresRollupStore(deps.DB.Pool)
		orgResolver = storage.NewPostgresOrgResolver(deps.DB.Pool)
	} else {
		mem := storage.NewMemoryStore()
		kiosks = mem
		assets = mem
		campaigns = mem
		plays = mem
		batches = mem
		rollupStore = mem
		orgResolver = mem
	}

	rollupSvc := pop.NewRollupService(rollupStore, redisClientOf(deps.Redis), deps.Logger, deps.Metrics)

	resolver := pop.NewResolver(kiosks, assets, campaigns, deps.Config.Import.Provider)
	importSvc := pop.NewImportService(
		resolver,
		plays,
		batches,
		rollupSvc,
		deps.Geo,
		deps.Config.Import,
		deps.Logger,
		deps.Metrics,
	)
	reportSvc := pop.NewReportService(plays, deps.Config.Import.DefaultDurationSec)

	s := &Server{
		importService: importSvc,
		reportService: reportSvc,
		rollupService: rollupSvc,
		kiosks:        kiosks,
		assets:        assets,
		campaigns:     campaigns,
		logger:        deps.Logger,
		config:        deps.Config,
		metrics:       deps.Metrics,
	}

	rateLimit := deps.RateLimit
	if rateLimit == nil {
		rateLimit = middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger)
	}
	rateLimit.SetMetrics(deps.Metrics)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Ingestion, with the extra per-IP bucket on top of the shared one.
	mux.Handle("/import/proof-of-play", rateLimit.HandlerPerIP(http.HandlerFunc(s.handleImport)))

	// Read side
	mux.HandleFunc("/reports/proof-of-play", s.handleReport)
	mux.HandleFunc("/reports/proof-of-play/summary", s.handleSummary)
	mux.HandleFunc("/reports/proof-of-play/export.csv", s.handleExportCSV)

	// Rollup
	mux.HandleFunc("/rollup/refresh", s.handleRollupRefresh)

	// Catalog
	mux.HandleFunc("/kiosks", s.handleKiosks)
	mux.HandleFunc("/assets", s.handleAssets)
	mux.HandleFunc("/campaigns", s.handleCampaigns)

	// Middleware chain, outermost first.
	recovery := middleware.NewRecoveryMiddleware(deps.Logger)
	logging := middleware.NewLoggingMiddleware(deps.Logger)
	auth := middleware.NewAuthMiddleware(deps.Config.Auth, orgResolver, deps.Logger)

	return recovery.Handler(logging.Handler(rateLimit.Handler(auth.Handler(mux))))
}

func redisClientOf(r *database.RedisDB) *redis.Client {
	if r == nil {
		return nil
	}
	return r.Client
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Ingestion ----

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID, ok := s.orgFor(r)
	if !ok {
		s.errorResponse(w, "organization not resolved", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Import.MaxBodyBytes))
	if err != nil {
		s.errorResponse(w, "failed to read body", http.StatusRequestEntityTooLarge)
		return
	}

	res, err := s.importService.Run(r.Context(), orgID, r.Header.Get("Content-Type"), string(body), clientIP(r))
	if err != nil {
		if errors.Is(err, report.ErrBatchParse) {
			s.errorResponse(w, "unparseable report: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("import failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, importResponse{
		OK:           true,
		Inserted:     res.Inserted,
		Dropped:      res.Dropped,
		LastPlayedAt: res.LastPlayedAt,
	})
}

// ---- Read Side ----

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID, ok := s.orgFor(r)
	if !ok {
		s.errorResponse(w, "organization not resolved", http.StatusUnauthorized)
		return
	}

	rows, err := s.reportService.Query(r.Context(), orgID, filterFromQuery(r))
	if err != nil {
		s.logger.Error("failed to query plays", zap.Error(err))
		s.errorResponse(w, "failed to query plays", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []*models.PlayReportRow{}
	}
	s.jsonResponse(w, rows)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID, ok := s.orgFor(r)
	if !ok {
		s.errorResponse(w, "organization not resolved", http.StatusUnauthorized)
		return
	}

	summary, err := s.reportService.Summarize(r.Context(), orgID, filterFromQuery(r))
	if err != nil {
		s.logger.Error("failed to summarize plays", zap.Error(err))
		s.errorResponse(w, "failed to summarize plays", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, summary)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID, ok := s.orgFor(r)
	if !ok {
		s.errorResponse(w, "organization not resolved", http.StatusUnauthorized)
		return
	}

	csv, err := s.reportService.ExportCSV(r.Context(), orgID, filterFromQuery(r))
	if err != nil {
		s.logger.Error("failed to export plays", zap.Error(err))
		s.errorResponse(w, "failed to export plays", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="proof-of-play.csv"`)
	w.Write([]byte(csv))
}

// ---- Rollup ----

func (s *Server) handleRollupRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.rollupService.Refresh(r.Context()); err != nil {
		s.logger.Error("rollup refresh failed", zap.Error(err))
		s.errorResponse(w, "rollup refresh failed", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]bool{"ok": true})
}

// ---- Catalog ----

func (s *Server) handleKiosks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID, ok := s.orgFor(r)
	if !ok {
		s.errorResponse(w, "organization not resolved", http.StatusUnauthorized)
		return
	}

	list, err := s.kiosks.ListKiosks(r.Context(), orgID)
	if err != nil {
		s.errorResponse(w, "failed to list kiosks", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, list)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID, ok := s.orgFor(r)
	if !ok {
		s.errorResponse(w, "organization not resolved", http.StatusUnauthorized)
		return
	}

	list, err := s.assets.ListAssets(r.Context(), orgID)
	if err != nil {
		s.errorResponse(w, "failed to list assets", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, list)
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID, ok := s.orgFor(r)
	if !ok {
		s.errorResponse(w, "organization not resolved", http.StatusUnauthorized)
		return
	}

	list, err := s.campaigns.ListCampaigns(r.Context(), orgID)
	if err != nil {
		s.errorResponse(w, "failed to list campaigns", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, list)
}

// ---- Helper Methods ----

// orgFor returns the caller's organization. The auth middleware sets it on
// the context; when auth is disabled the org_id query parameter stands in.
func (s *Server) orgFor(r *http.Request) (string, bool) {
	if orgID, ok := middleware.OrgFromContext(r.Context()); ok {
		return orgID, true
	}
	if !s.config.Auth.Enabled {
		if orgID := r.URL.Query().Get("org_id"); orgID != "" {
			return orgID, true
		}
	}
	return "", false
}

// filterFromQuery builds the report filter from query parameters. Bad dates
// are ignored rather than rejected.
func filterFromQuery(r *http.Request) models.ReportFilter {
	q := r.URL.Query()
	f := models.ReportFilter{
		CampaignID: q.Get("campaign_id"),
		ScreenID:   q.Get("screen_id"),
		AssetID:    q.Get("asset_id"),
		AccountID:  q.Get("account_id"),
	}
	if v := q.Get("start_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.StartDate = &t
		}
	}
	if v := q.Get("end_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			end := t.Add(24*time.Hour - time.Nanosecond)
			f.EndDate = &end
		}
	}
	return f
}

// clientIP extracts the caller's IP, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
