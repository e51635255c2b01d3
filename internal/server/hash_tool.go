package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"cakisi/internal/core"
	"cakisi/internal/tools"
)

const (
	// multipartOverhead allows for form fields and part headers on top of
	// the file itself.
	multipartOverhead = 64 * 1024
	multipartMemory   = 32 << 20
)

type hashPageResponse struct {
	Tool          tools.Info        `json:"tool"`
	Algorithms    []tools.Algorithm `json:"algorithms"`
	PipelineFile  *fileView         `json:"pipeline_file,omitempty"`
	PipelineError string            `json:"pipeline_error,omitempty"`
}

type hashResponse struct {
	Algorithm string            `json:"algorithm"`
	Hashes    map[string]string `json:"hashes"`
	Source    string            `json:"source"`
	Filename  string            `json:"filename,omitempty"`
	InputSize int64             `json:"input_size"`
	// Match is set when an expected digest was supplied.
	Match *bool `json:"match,omitempty"`
}

// HashPage handles GET /tools/hash-generator/. A ?pipeline_id= is resolved
// so the client can offer the handed-off file.
func (h *Handler) HashPage(c echo.Context) error {
	info, _ := h.deps.Tools.Get(tools.SlugHashGenerator)
	resp := hashPageResponse{Tool: info, Algorithms: tools.Algorithms}

	if id := c.QueryParam("pipeline_id"); id != "" {
		if f, ok := h.resolve(id); ok {
			v := h.fileView(f)
			resp.PipelineFile = &v
		} else {
			resp.PipelineError = errPipelineNotFound.Message
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type hashTextRequest struct {
	Text      string `json:"text" form:"text"`
	Algorithm string `json:"algorithm" form:"algorithm"`
	Expected  string `json:"expected" form:"expected"`
}

// HashText handles POST /tools/hash-generator/text
func (h *Handler) HashText(c echo.Context) error {
	const slug = tools.SlugHashGenerator
	start := time.Now()

	var req hashTextRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, slug, start, core.NewInvalidRequestError("invalid request body", err).WithTool(slug), nil)
	}
	if req.Algorithm == "" {
		req.Algorithm = tools.AlgorithmAll
	}
	attrs := map[string]any{"source": "text", "algorithm": req.Algorithm}

	if err := h.checkText(slug, req.Text); err != nil {
		return h.fail(c, slug, start, err, attrs)
	}

	hashes, err := tools.HashText(req.Algorithm, req.Text)
	if err != nil {
		return h.fail(c, slug, start, err, attrs)
	}

	resp := hashResponse{
		Algorithm: req.Algorithm,
		Hashes:    hashes,
		Source:    "text",
		InputSize: int64(len(req.Text)),
		Match:     matchExpected(hashes, req.Expected),
	}
	h.record(c, slug, start, false, nil, attrs)
	return c.JSON(http.StatusOK, resp)
}

// HashFile handles POST /tools/hash-generator/file. The input is either a
// multipart "file" (counted against the client's upload quota) or a
// "pipeline_id" handed off by another tool.
//
// A multipart body is read at most up to the per-file limit. The quota is
// charged with the exact file size once the part header is parsed, before
// any hashing.
func (h *Handler) HashFile(c echo.Context) error {
	const slug = tools.SlugHashGenerator
	start := time.Now()
	ctx := c.Request().Context()

	if err := h.parseUpload(c, slug); err != nil {
		return h.fail(c, slug, start, err, nil)
	}

	algorithm := c.FormValue("algorithm")
	if algorithm == "" {
		algorithm = tools.AlgorithmAll
	}
	attrs := map[string]any{"algorithm": algorithm}

	var (
		r        io.Reader
		filename string
		source   string
	)

	if id := c.FormValue("pipeline_id"); id != "" {
		source = "pipeline"
		f, ok := h.resolve(id)
		if !ok {
			return h.fail(c, slug, start, errPipelineNotFound.WithTool(slug), attrs)
		}
		file, err := os.Open(f.Path)
		if err != nil {
			// Removed between Resolve and Open.
			return h.fail(c, slug, start, errPipelineNotFound.WithTool(slug), attrs)
		}
		defer file.Close()
		r, filename = file, f.OriginalName
		attrs["source_tool"] = f.SourceTool
	} else {
		source = "file"
		fh, err := c.FormFile("file")
		if err != nil {
			return h.fail(c, slug, start, core.NewInvalidRequestError("file is required", err).WithTool(slug), attrs)
		}
		if fh.Size > h.sizeLimit(slug) {
			return h.fail(c, slug, start, h.fileTooLarge(slug), attrs)
		}
		if h.deps.Limiter != nil {
			if err := h.deps.Limiter.CheckUpload(ctx, core.GetClientID(ctx), fh.Size); err != nil {
				return h.fail(c, slug, start, err, attrs)
			}
		}
		file, err := fh.Open()
		if err != nil {
			return h.fail(c, slug, start, core.NewInvalidRequestError("failed to read upload", err).WithTool(slug), attrs)
		}
		defer file.Close()
		r, filename = file, fh.Filename
	}
	attrs["source"] = source

	hashes, n, err := tools.HashReader(algorithm, r)
	if err != nil {
		return h.fail(c, slug, start, err, attrs)
	}
	attrs["size"] = n

	resp := hashResponse{
		Algorithm: algorithm,
		Hashes:    hashes,
		Source:    source,
		Filename:  filename,
		InputSize: n,
		Match:     matchExpected(hashes, c.FormValue("expected")),
	}
	h.record(c, slug, start, false, nil, attrs)
	return c.JSON(http.StatusOK, resp)
}

// parseUpload parses a multipart body under a cap of the tool's size limit.
// Other content types are left for FormValue to parse.
func (h *Handler) parseUpload(c echo.Context, slug string) error {
	req := c.Request()
	if !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return nil
	}

	maxBody := h.sizeLimit(slug) + multipartOverhead
	if req.ContentLength > maxBody {
		return h.fileTooLarge(slug)
	}
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBody)
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return h.fileTooLarge(slug)
		}
		return core.NewInvalidRequestError("invalid multipart body", err).WithTool(slug)
	}
	return nil
}

func (h *Handler) fileTooLarge(slug string) *core.ToolError {
	return core.NewPayloadTooLargeError(fmt.Sprintf("file too large: max %dMB", h.sizeLimit(slug)/mb)).WithTool(slug)
}

type compareRequest struct {
	Hash1 string `json:"hash1" form:"hash1"`
	Hash2 string `json:"hash2" form:"hash2"`
}

// HashCompare handles POST /tools/hash-generator/compare
func (h *Handler) HashCompare(c echo.Context) error {
	const slug = tools.SlugHashGenerator
	start := time.Now()

	var req compareRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, slug, start, core.NewInvalidRequestError("invalid request body", err).WithTool(slug), nil)
	}
	if req.Hash1 == "" || req.Hash2 == "" {
		return h.fail(c, slug, start, core.NewInvalidRequestError("hash1 and hash2 are required", nil).WithTool(slug), nil)
	}

	match := tools.CompareDigests(req.Hash1, req.Hash2)
	h.record(c, slug, start, false, nil, map[string]any{"action": "compare", "match": match})
	return c.JSON(http.StatusOK, map[string]bool{"match": match})
}

// matchExpected reports whether any digest equals expected, or nil when no
// expected digest was given.
func matchExpected(hashes map[string]string, expected string) *bool {
	if expected == "" {
		return nil
	}
	match := false
	for _, d := range hashes {
		if tools.CompareDigests(d, expected) {
			match = true
		}
	}
	return &match
}
