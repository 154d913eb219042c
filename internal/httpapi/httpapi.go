// Package httpapi is the REST adapter (SPEC_FULL §6): a thin net/http
// layer with no business logic of its own, grounded on the teacher's own
// metrics.go (http.NewServeMux, one HandleFunc per concern,
// http.Server{Addr, Handler}). Every handler delegates to the core
// (storage, collector, integrity) and converts the result to JSON.
package httpapi

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/collector"
	coreerrors "github.com/johnayoung/go-ohlcv-collector/internal/errors"
	"github.com/johnayoung/go-ohlcv-collector/internal/exchange"
	"github.com/johnayoung/go-ohlcv-collector/internal/integrity"
	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"github.com/johnayoung/go-ohlcv-collector/internal/storage"
)

// Server wires the core services into a net/http.Server, the REST adapter
// over C2-C9.
type Server struct {
	store      storage.PartitionStore
	manifest   storage.Manifest
	registry   *exchange.Registry
	supervisor *collector.Supervisor
	auditor    *integrity.Auditor
	logger     *slog.Logger
	dataRoot   string

	server *http.Server
}

// Config configures Server's listener and the lake root its export/feature
// endpoints write under.
type Config struct {
	Addr     string
	DataRoot string
}

// New constructs a Server over the given core services.
func New(cfg Config, store storage.PartitionStore, manifest storage.Manifest, registry *exchange.Registry, supervisor *collector.Supervisor, auditor *integrity.Auditor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:      store,
		manifest:   manifest,
		registry:   registry,
		supervisor: supervisor,
		auditor:    auditor,
		logger:     logger,
		dataRoot:   cfg.DataRoot,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /list", s.handleList)
	mux.HandleFunc("GET /read", s.handleRead)
	mux.HandleFunc("GET /verify", s.handleVerify)
	mux.HandleFunc("GET /datasets", s.handleListDatasets)
	mux.HandleFunc("GET /datasets/{id}/preview", s.handleDatasetPreview)
	mux.HandleFunc("GET /datasets/{id}/export", s.handleDatasetExport)
	mux.HandleFunc("DELETE /datasets/{id}", s.handleDeleteDataset)
	mux.HandleFunc("POST /ingest/download", s.handleIngestDownload)
	mux.HandleFunc("POST /ingest/bulk-download", s.handleIngestBulkDownload)
	mux.HandleFunc("GET /ingest/status", s.handleIngestStatus)
	mux.HandleFunc("POST /ingest/{key}/cancel", s.handleIngestCancel)
	mux.HandleFunc("DELETE /ingest/exchanges/{exchange}/markets/{market}/history", s.handleDeleteHistory)
	mux.HandleFunc("GET /ingest/exchanges", s.handleListExchanges)
	mux.HandleFunc("GET /ingest/exchanges/{exchange}/markets", s.handleListMarkets)
	mux.HandleFunc("GET /ingest/exchanges/{exchange}/symbols", s.handleListSymbols)
	mux.HandleFunc("GET /export/{exchange}/{symbol}", s.handleAggregatedExport)
	mux.HandleFunc("POST /features/upload", s.handleFeatureUpload)
	mux.HandleFunc("GET /features", s.handleListFeatures)
	mux.HandleFunc("GET /features/sets", s.handleListFeatureSets)
	mux.HandleFunc("GET /features/{id}", s.handleGetFeature)
	mux.HandleFunc("GET /features/{id}/download", s.handleDownloadFeature)
	mux.HandleFunc("DELETE /features/{id}", s.handleDeleteFeature)

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts the server; call in a goroutine, mirroring the
// teacher's metrics.startHTTPServer.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError implements SPEC_FULL §6's error body and status mapping:
// {"detail": "<message>"}, status derived from the error's classified
// type via errors.HTTPStatus, defaulting to 500 for an unclassified error.
func writeError(w http.ResponseWriter, err error) {
	status := coreerrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		if _, ok := err.(*coreerrors.ClassifiedError); !ok {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func parseIdentity(r *http.Request) models.Identity {
	q := r.URL.Query()
	return models.Identity{
		Exchange: q.Get("exchange"),
		Market:   q.Get("market"),
		Symbol:   q.Get("symbol"),
	}
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	if err := s.manifest.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := parseIdentity(r)
	entries, err := s.manifest.Find(r.Context(), storage.ManifestFilter{
		Exchange: id.Exchange, Market: id.Market, Symbol: id.Symbol,
		Type: q.Get("data_type"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := parseIdentity(r)
	if id.Exchange == "" || id.Symbol == "" {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "read", fmt.Errorf("exchange and symbol are required")))
		return
	}
	dataType := q.Get("data_type")
	if dataType == "" {
		dataType = string(models.DataTypeOHLCV)
	}
	start := parseInt64(q.Get("start"), 0)
	end := parseInt64(q.Get("end"), time.Now().UTC().UnixMilli())

	batch, err := s.store.Read(r.Context(), id, dataType, q.Get("period"), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := parseIdentity(r)
	report, err := s.auditor.Verify(r.Context(), id, q.Get("data_type"), q.Get("period"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type ingestDownloadRequest struct {
	Exchange    string `json:"exchange"`
	Market      string `json:"market"`
	Symbol      string `json:"symbol"`
	Period      string `json:"timeframe"`
	DataType    string `json:"data_type"`
	StartDate   int64  `json:"start_date"`
	FullHistory bool   `json:"full_history"`
}

func (s *Server) handleIngestDownload(w http.ResponseWriter, r *http.Request) {
	var req ingestDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "ingest_download", err))
		return
	}
	if req.DataType == "" {
		req.DataType = string(models.DataTypeOHLCV)
	}

	adapter, err := s.registry.Get(req.Exchange)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeUnknownExchange, "httpapi", "ingest_download", err))
		return
	}

	id := models.Identity{Exchange: req.Exchange, Market: req.Market, Symbol: req.Symbol}
	pipeline := collector.NewPipeline(adapter, s.store, s.manifest, s.logger)

	key, err := s.supervisor.Enqueue(req.Exchange, req.Market, req.Symbol, models.DataType(req.DataType), func(ctx context.Context, onProgress collector.ProgressFunc) error {
		return pipeline.Run(ctx, collector.IngestParams{
			Identity:    id,
			DataType:    models.DataType(req.DataType),
			Period:      req.Period,
			Start:       req.StartDate,
			FullHistory: req.FullHistory,
		}, onProgress)
	})
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeAlreadyRunning, "httpapi", "ingest_download", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Status())
}

func (s *Server) handleIngestCancel(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.supervisor.Cancel(key); err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeNotFound, "httpapi", "ingest_cancel", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "cancelling"})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := models.Identity{
		Exchange: r.PathValue("exchange"),
		Market:   r.PathValue("market"),
		Symbol:   q.Get("symbol"),
	}
	count, err := s.store.Delete(r.Context(), id, q.Get("data_type"), q.Get("period"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"files_removed": count})
}

func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Names())
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	adapter, err := s.registry.Get(r.PathValue("exchange"))
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeUnknownExchange, "httpapi", "list_markets", err))
		return
	}
	markets, err := adapter.ListMarkets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	adapter, err := s.registry.Get(r.PathValue("exchange"))
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeUnknownExchange, "httpapi", "list_symbols", err))
		return
	}
	market := r.URL.Query().Get("market")
	symbols, err := adapter.ListSymbols(r.Context(), market)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, symbols)
}

// parsePathID reads an int64 manifest id from the {id} path segment.
func parsePathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// findEntry looks up a single manifest entry by id, or a NotFound domain
// error if it does not exist.
func (s *Server) findEntry(ctx context.Context, id int64) (storage.ManifestEntry, error) {
	entries, err := s.manifest.Find(ctx, storage.ManifestFilter{ID: id})
	if err != nil {
		return storage.ManifestEntry{}, err
	}
	if len(entries) == 0 {
		return storage.ManifestEntry{}, coreerrors.NewDomainError(coreerrors.ErrorTypeNotFound, "httpapi", "find_entry", fmt.Errorf("dataset %d not found", id))
	}
	return entries[0], nil
}

// datasetView is the manifest row shape the /datasets endpoints expose,
// adding the derived "timeframe" alias for Period the REST surface names.
type datasetView struct {
	storage.ManifestEntry
	Timeframe string `json:"timeframe"`
}

func toDatasetView(e storage.ManifestEntry) datasetView {
	return datasetView{ManifestEntry: e, Timeframe: e.Period}
}

func parsePage(q interface {
	Get(string) string
}, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	offset = 0
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func paginateEntries(entries []storage.ManifestEntry, limit, offset int) []storage.ManifestEntry {
	if offset >= len(entries) {
		return nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

// handleListDatasets is GET /datasets?{filters}&limit&offset: a paginated
// manifest view with a derived timeframe field per entry.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := parseIdentity(r)
	entries, err := s.manifest.Find(r.Context(), storage.ManifestFilter{
		Exchange: id.Exchange, Market: id.Market, Symbol: id.Symbol,
		Type: q.Get("data_type"), Period: q.Get("timeframe"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	limit, offset := parsePage(q, 100)
	page := paginateEntries(entries, limit, offset)

	views := make([]datasetView, 0, len(page))
	for _, e := range page {
		views = append(views, toDatasetView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": views,
		"total":    len(entries),
		"limit":    limit,
		"offset":   offset,
	})
}

// handleDatasetPreview is GET /datasets/{id}/preview?limit&offset:
// {columns, rows, total_rows, metadata}.
func (s *Server) handleDatasetPreview(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "dataset_preview", err))
		return
	}
	entry, err := s.findEntry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	identity := models.Identity{Exchange: entry.Exchange, Market: entry.Market, Symbol: entry.Symbol}
	batch, err := s.store.Read(r.Context(), identity, entry.Type, entry.Period, entry.TimeFrom, entry.TimeTo)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	limit, offset := parsePage(q, 100)
	var page models.Batch
	if offset < len(batch) {
		end := offset + limit
		if end > len(batch) {
			end = len(batch)
		}
		page = batch[offset:end]
	}

	columns := append([]string{"ts"}, batch.ColumnUnion()...)
	rows := make([][]any, 0, len(page))
	for _, rec := range page {
		row := make([]any, len(columns))
		row[0] = rec.Ts
		for i, col := range columns[1:] {
			row[i+1] = rec.Fields[col]
		}
		rows = append(rows, row)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"columns":    columns,
		"rows":       rows,
		"total_rows": len(batch),
		"metadata":   toDatasetView(entry),
	})
}

// writeCSVExport writes batch to a CSV file named filename under
// <dataRoot>/exports, creating the directory as needed, and returns the
// full path written.
func (s *Server) writeCSVExport(filename string, batch models.Batch) (string, error) {
	exportDir := filepath.Join(s.dataRoot, "exports")
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(exportDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	columns := batch.ColumnUnion()
	writer := csv.NewWriter(f)
	header := append([]string{"ts"}, columns...)
	if err := writer.Write(header); err != nil {
		return "", err
	}
	for _, rec := range batch {
		row := make([]string, 0, len(header))
		row = append(row, strconv.FormatInt(rec.Ts, 10))
		for _, col := range columns {
			row = append(row, strconv.FormatFloat(rec.Fields[col], 'f', -1, 64))
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return path, writer.Error()
}

// handleDatasetExport is GET /datasets/{id}/export: writes a CSV to the
// export directory and returns its path.
func (s *Server) handleDatasetExport(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "dataset_export", err))
		return
	}
	entry, err := s.findEntry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	identity := models.Identity{Exchange: entry.Exchange, Market: entry.Market, Symbol: entry.Symbol}
	batch, err := s.store.Read(r.Context(), identity, entry.Type, entry.Period, entry.TimeFrom, entry.TimeTo)
	if err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("dataset_%d_%s.csv", entry.ID, time.Now().UTC().Format("20060102T150405Z"))
	path, err := s.writeCSVExport(filename, batch)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeDiskFull, "httpapi", "dataset_export", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// handleDeleteDataset is DELETE /datasets/{id}: removes file + row.
func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "delete_dataset", err))
		return
	}
	entry, err := s.findEntry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.manifest.DeleteBy(r.Context(), storage.ManifestFilter{ID: id}); err != nil {
		writeError(w, err)
		return
	}
	os.Remove(entry.Path)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type bulkDownloadRequest struct {
	Exchange    string   `json:"exchange"`
	Market      string   `json:"market"`
	Symbols     []string `json:"symbols"`
	Period      string   `json:"timeframe"`
	DataType    string   `json:"data_type"`
	StartDate   int64    `json:"start_date"`
	FullHistory bool     `json:"full_history"`
}

// handleIngestBulkDownload is POST /ingest/bulk-download: enqueues one task
// per symbol, reusing the same enqueue path as a single /ingest/download.
func (s *Server) handleIngestBulkDownload(w http.ResponseWriter, r *http.Request) {
	var req bulkDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "bulk_download", err))
		return
	}
	if req.DataType == "" {
		req.DataType = string(models.DataTypeOHLCV)
	}

	adapter, err := s.registry.Get(req.Exchange)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeUnknownExchange, "httpapi", "bulk_download", err))
		return
	}

	results := make(map[string]string, len(req.Symbols))
	for _, symbol := range req.Symbols {
		id := models.Identity{Exchange: req.Exchange, Market: req.Market, Symbol: symbol}
		pipeline := collector.NewPipeline(adapter, s.store, s.manifest, s.logger)

		key, err := s.supervisor.Enqueue(req.Exchange, req.Market, symbol, models.DataType(req.DataType), func(ctx context.Context, onProgress collector.ProgressFunc) error {
			return pipeline.Run(ctx, collector.IngestParams{
				Identity:    id,
				DataType:    models.DataType(req.DataType),
				Period:      req.Period,
				Start:       req.StartDate,
				FullHistory: req.FullHistory,
			}, onProgress)
		})
		if err != nil {
			results[symbol] = "error: " + err.Error()
			continue
		}
		results[symbol] = key
	}
	writeJSON(w, http.StatusCreated, results)
}

// handleAggregatedExport is GET /export/{exchange}/{symbol}?market=:
// concatenates every 1m OHLCV partition in ts order and writes
// dl_<SYMBOL>_<EXCHANGE>_<MARKET>.csv.txt to the export directory.
func (s *Server) handleAggregatedExport(w http.ResponseWriter, r *http.Request) {
	exchangeName := r.PathValue("exchange")
	symbol := r.PathValue("symbol")
	market := r.URL.Query().Get("market")

	identity := models.Identity{Exchange: exchangeName, Market: market, Symbol: symbol}
	batch, err := s.store.Read(r.Context(), identity, string(models.DataTypeOHLCV), "1m", 0, time.Now().UTC().UnixMilli())
	if err != nil {
		writeError(w, err)
		return
	}

	norm := identity.Normalize()
	filename := fmt.Sprintf("dl_%s_%s_%s.csv.txt", norm.Symbol, norm.Exchange, norm.Market)
	path, err := s.writeCSVExport(filename, batch)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeDiskFull, "httpapi", "aggregated_export", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

const featureManifestType = "feature"
const featureManifestExchange = "_features"

// handleFeatureUpload is POST /features/upload (multipart): stores the
// uploaded file under <dataRoot>/features and registers it in the manifest
// the same way the CLI's upload-feature command does.
func (s *Server) handleFeatureUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "feature_upload", err))
		return
	}
	name := r.FormValue("name")
	if name == "" {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "feature_upload", fmt.Errorf("name is required")))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "feature_upload", err))
		return
	}
	defer file.Close()

	destDir := filepath.Join(s.dataRoot, "features")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeDiskFull, "httpapi", "feature_upload", err))
		return
	}
	destPath := filepath.Join(destDir, name+filepath.Ext(header.Filename))

	dest, err := os.Create(destPath)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeDiskFull, "httpapi", "feature_upload", err))
		return
	}
	defer dest.Close()
	size, err := io.Copy(dest, file)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeDiskFull, "httpapi", "feature_upload", err))
		return
	}

	entry := storage.ManifestEntry{
		Exchange:  featureManifestExchange,
		Symbol:    name,
		Type:      featureManifestType,
		Path:      destPath,
		FileSize:  size,
		Version:   time.Now().UTC().Format("20060102T150405Z"),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.manifest.Upsert(r.Context(), entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name, "path": destPath})
}

// handleListFeatures is GET /features[?name=]: every registered feature
// file, optionally filtered by name.
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manifest.Find(r.Context(), storage.ManifestFilter{
		Exchange: featureManifestExchange, Type: featureManifestType, Symbol: r.URL.Query().Get("name"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleListFeatureSets is GET /features/sets: the distinct feature names
// registered, independent of version.
func (s *Server) handleListFeatureSets(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manifest.Find(r.Context(), storage.ManifestFilter{Exchange: featureManifestExchange, Type: featureManifestType})
	if err != nil {
		writeError(w, err)
		return
	}
	seen := map[string]struct{}{}
	for _, e := range entries {
		seen[e.Symbol] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) findFeature(ctx context.Context, id int64) (storage.ManifestEntry, error) {
	entry, err := s.findEntry(ctx, id)
	if err != nil {
		return storage.ManifestEntry{}, err
	}
	if entry.Type != featureManifestType {
		return storage.ManifestEntry{}, coreerrors.NewDomainError(coreerrors.ErrorTypeNotFound, "httpapi", "find_feature", fmt.Errorf("feature %d not found", id))
	}
	return entry, nil
}

// handleGetFeature is GET /features/{id}.
func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "get_feature", err))
		return
	}
	entry, err := s.findFeature(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDownloadFeature is GET /features/{id}/download: streams the
// registered feature file back.
func (s *Server) handleDownloadFeature(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "download_feature", err))
		return
	}
	entry, err := s.findFeature(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeNotFound, "httpapi", "download_feature", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(entry.Path)))
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}

// handleDeleteFeature is DELETE /features/{id}: removes file + row.
func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r)
	if err != nil {
		writeError(w, coreerrors.NewDomainError(coreerrors.ErrorTypeInvalidIdentity, "httpapi", "delete_feature", err))
		return
	}
	entry, err := s.findFeature(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.manifest.DeleteBy(r.Context(), storage.ManifestFilter{ID: id}); err != nil {
		writeError(w, err)
		return
	}
	os.Remove(entry.Path)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
