package server

import (
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"cakisi/internal/core"
	"cakisi/internal/pipeline"
)

var errPipelineNotFound = core.NewNotFoundError("pipeline file not found or expired")

// fileView is the public description of a pipeline file. The on-disk path
// is never exposed.
type fileView struct {
	ID           string    `json:"pipeline_id"`
	SourceTool   string    `json:"source_tool"`
	MimeType     string    `json:"mime_type"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	DownloadURL  string    `json:"download_url"`
	Consumers    []string  `json:"consumers,omitempty"`
}

func (h *Handler) fileView(f *pipeline.File) fileView {
	v := fileView{
		ID:           f.ID,
		SourceTool:   f.SourceTool,
		MimeType:     f.MimeType,
		OriginalName: f.OriginalName,
		CreatedAt:    f.CreatedAt.UTC(),
		ExpiresAt:    f.ExpiresAt().UTC(),
		DownloadURL:  "/pipeline/" + f.ID + "/download",
	}
	if info, err := os.Stat(f.Path); err == nil {
		v.Size = info.Size()
	}
	for _, t := range h.deps.Tools.Consumers(f.SourceTool) {
		v.Consumers = append(v.Consumers, t.Slug)
	}
	return v
}

func (h *Handler) resolve(id string) (*pipeline.File, bool) {
	if h.deps.Pipeline == nil {
		return nil, false
	}
	return h.deps.Pipeline.Resolve(id)
}

// PipelineInfo handles GET /pipeline/:id
func (h *Handler) PipelineInfo(c echo.Context) error {
	f, ok := h.resolve(c.Param("id"))
	if !ok {
		return handleError(c, errPipelineNotFound)
	}
	return c.JSON(http.StatusOK, h.fileView(f))
}

// PipelineDownload handles GET /pipeline/:id/download
func (h *Handler) PipelineDownload(c echo.Context) error {
	f, ok := h.resolve(c.Param("id"))
	if !ok {
		return handleError(c, errPipelineNotFound)
	}
	if f.MimeType != "" {
		c.Response().Header().Set(echo.HeaderContentType, f.MimeType)
	}
	return c.Attachment(f.Path, f.OriginalName)
}
