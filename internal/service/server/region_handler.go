package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mapstash/mapstash/internal/domain"
	"github.com/mapstash/mapstash/internal/port"
	"github.com/mapstash/mapstash/internal/registry"
	"github.com/mapstash/mapstash/internal/service/storage"
)

// Store is the slice of the storage manager the HTTP surface consumes.
type Store interface {
	Status(region domain.RegionID) (domain.Status, error)
	RequestDownload(region domain.RegionID, parts domain.Parts) error
	CancelDownload(region domain.RegionID) error
	Delete(region domain.RegionID, parts domain.Parts) error
	SizeInBytes(region domain.RegionID, parts domain.Parts) (domain.Progress, error)
	Latest(region domain.RegionID) (domain.LocalFile, bool)
	QueueSnapshot() (*storage.QueueItem, []storage.QueueItem)
	DiskUsage() (*registry.DiskUsage, error)
}

// RegionHandler handles region listing, download, cancel and delete
// requests
type RegionHandler struct {
	store   Store
	catalog port.Catalog
	logger  *zap.Logger
}

// NewRegionHandler creates a new RegionHandler
func NewRegionHandler(store Store, catalog port.Catalog, logger *zap.Logger) *RegionHandler {
	return &RegionHandler{
		store:   store,
		catalog: catalog,
		logger:  logger,
	}
}

// regionView is the JSON shape of one region
type regionView struct {
	Name            string `json:"name"`
	Status          string `json:"status"`
	Version         int64  `json:"version,omitempty"`
	PartsOnDisk     string `json:"parts_on_disk,omitempty"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalBytes      int64  `json:"total_bytes,omitempty"`
}

// queueEntryView is the JSON shape of one queue slot
type queueEntryView struct {
	Name            string `json:"name"`
	Parts           string `json:"parts"`
	Missing         string `json:"missing"`
	Version         int64  `json:"version"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalBytes      int64  `json:"total_bytes"`
}

// HandleList handles region listing: GET /v1/regions
func (h *RegionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	regions := h.catalog.Regions()
	views := make([]regionView, 0, len(regions))
	for _, region := range regions {
		views = append(views, h.describe(region))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_version": h.catalog.ActiveDataVersion(),
		"regions":        views,
	})
}

// HandleRegion routes per-region requests:
//
//	GET    /v1/regions/{name}                    region detail
//	DELETE /v1/regions/{name}?parts=…            delete parts, default all
//	POST   /v1/regions/{name}/download?parts=…   request download, default base
//	POST   /v1/regions/{name}/cancel             cancel download
func (h *RegionHandler) HandleRegion(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/regions/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" {
		http.Error(w, "Region name required", http.StatusBadRequest)
		return
	}

	region := h.catalog.Lookup(name)
	if !region.IsValid() {
		http.Error(w, "Region not found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.describe(region))
		case http.MethodDelete:
			h.handleDelete(w, r, region)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "download":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleDownload(w, r, region)
	case "cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleCancel(w, region)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// HandleQueue handles queue inspection: GET /v1/queue
func (h *RegionHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active, queued := h.store.QueueSnapshot()
	response := map[string]interface{}{
		"queued": queueViews(queued),
	}
	if active != nil {
		view := queueView(*active)
		response["active"] = &view
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *RegionHandler) handleDownload(w http.ResponseWriter, r *http.Request, region domain.RegionID) {
	parts, ok := h.partsParam(w, r, domain.PartsBase)
	if !ok {
		return
	}
	if err := h.store.RequestDownload(region, parts); err != nil {
		h.writeStoreError(w, region, err)
		return
	}
	h.logger.Info("download requested over HTTP",
		zap.String("region", h.catalog.Name(region)),
		zap.Stringer("parts", parts))
	writeJSON(w, http.StatusAccepted, h.describe(region))
}

func (h *RegionHandler) handleCancel(w http.ResponseWriter, region domain.RegionID) {
	if err := h.store.CancelDownload(region); err != nil {
		h.writeStoreError(w, region, err)
		return
	}
	writeJSON(w, http.StatusOK, h.describe(region))
}

func (h *RegionHandler) handleDelete(w http.ResponseWriter, r *http.Request, region domain.RegionID) {
	parts, ok := h.partsParam(w, r, domain.PartsAll)
	if !ok {
		return
	}
	if err := h.store.Delete(region, parts); err != nil {
		h.writeStoreError(w, region, err)
		return
	}
	h.logger.Info("delete requested over HTTP",
		zap.String("region", h.catalog.Name(region)),
		zap.Stringer("parts", parts))
	writeJSON(w, http.StatusOK, h.describe(region))
}

// describe assembles the JSON view of a region from the store
func (h *RegionHandler) describe(region domain.RegionID) regionView {
	view := regionView{Name: h.catalog.Name(region)}

	status, err := h.store.Status(region)
	if err != nil {
		view.Status = domain.StatusNotDownloaded.String()
		return view
	}
	view.Status = status.String()

	if rec, ok := h.store.Latest(region); ok {
		view.Version = rec.Version
		view.PartsOnDisk = rec.Parts.String()
	}
	if p, err := h.store.SizeInBytes(region, domain.PartsAll); err == nil {
		view.DownloadedBytes = p.Downloaded
		view.TotalBytes = p.Total
	}
	return view
}

// partsParam parses the parts query parameter, falling back to def when
// absent. On a malformed value it writes a 400 and reports !ok.
func (h *RegionHandler) partsParam(w http.ResponseWriter, r *http.Request, def domain.Parts) (domain.Parts, bool) {
	raw := r.URL.Query().Get("parts")
	if raw == "" {
		return def, true
	}
	parts, err := domain.ParseParts(raw)
	if err != nil {
		http.Error(w, "Invalid parts: "+raw, http.StatusBadRequest)
		return domain.PartsNone, false
	}
	return parts, true
}

func (h *RegionHandler) writeStoreError(w http.ResponseWriter, region domain.RegionID, err error) {
	switch {
	case errors.Is(err, domain.ErrRegionNotFound):
		http.Error(w, "Region not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidParts):
		http.Error(w, "Invalid parts", http.StatusBadRequest)
	default:
		h.logger.Error("region operation failed",
			zap.String("region", h.catalog.Name(region)),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func queueView(item storage.QueueItem) queueEntryView {
	return queueEntryView{
		Name:            item.Name,
		Parts:           item.Parts.String(),
		Missing:         item.Missing.String(),
		Version:         item.Version,
		DownloadedBytes: item.Downloaded,
		TotalBytes:      item.Total,
	}
}

func queueViews(items []storage.QueueItem) []queueEntryView {
	views := make([]queueEntryView, 0, len(items))
	for _, item := range items {
		views = append(views, queueView(item))
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
