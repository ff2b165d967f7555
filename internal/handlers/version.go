package handlers

import (
	"net/http"

	"speelycaptor/internal/startup"
)

// VersionResponse is the build identity plus the staging limits a client
// has to plan around.
type VersionResponse struct {
	startup.BuildInfo

	UploadTTLSeconds int64 `json:"uploadTtlSeconds"`
	MaxUploadBytes   int64 `json:"maxUploadBytes"`
	ValidateUploads  bool  `json:"validateUploads"`
}

// Version reports build information and upload limits.
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	resp := VersionResponse{
		BuildInfo:        startup.GetBuildInfo(),
		UploadTTLSeconds: int64(h.config.UploadTTL.Seconds()),
		MaxUploadBytes:   h.config.MaxUploadBytes,
		ValidateUploads:  h.config.ValidateUploads,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, resp)
}
