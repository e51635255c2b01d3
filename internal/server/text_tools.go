package server

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"cakisi/internal/cache"
	"cakisi/internal/core"
	"cakisi/internal/pipeline"
	"cakisi/internal/tools"
)

type textRequest struct {
	Text   string `json:"text" form:"text"`
	Action string `json:"action" form:"action"`
}

type textResponse struct {
	Tool          string             `json:"tool"`
	Action        string             `json:"action"`
	Result        string             `json:"result"`
	Cached        bool               `json:"cached"`
	Summary       *tools.JSONSummary `json:"summary,omitempty"`
	SuggestedNext []tools.Relation   `json:"suggested_next,omitempty"`
}

type textTool func(action, input string) (string, error)

// Base64Convert handles POST /tools/base64/convert
func (h *Handler) Base64Convert(c echo.Context) error {
	return h.runTextTool(c, tools.SlugBase64, tools.ActionEncode, tools.Base64)
}

// URLConvert handles POST /tools/url-encoder/convert
func (h *Handler) URLConvert(c echo.Context) error {
	return h.runTextTool(c, tools.SlugURLEncoder, tools.ActionEncode, tools.URL)
}

// JSONFormat handles POST /tools/json-formatter/format
func (h *Handler) JSONFormat(c echo.Context) error {
	return h.runTextTool(c, tools.SlugJSONFormatter, tools.ActionPrettify, tools.JSON)
}

// runTextTool binds a text request, serves it from the tool cache when
// possible and records the call.
func (h *Handler) runTextTool(c echo.Context, slug, defaultAction string, run textTool) error {
	start := time.Now()

	var req textRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, slug, start, core.NewInvalidRequestError("invalid request body", err).WithTool(slug), nil)
	}
	if req.Action == "" {
		req.Action = defaultAction
	}
	attrs := map[string]any{"action": req.Action, "input_size": len(req.Text)}

	if err := h.checkText(slug, req.Text); err != nil {
		return h.fail(c, slug, start, err, attrs)
	}

	info, _ := h.deps.Tools.Get(slug)
	resp := textResponse{Tool: slug, Action: req.Action, SuggestedNext: info.SuggestedNext}

	ctx := c.Request().Context()
	opts := cache.Options{"action": req.Action}
	cacheable := info.Cacheable && tools.KnownAction(req.Action)
	if cacheable {
		if out, ok := h.deps.Cache.Get(ctx, slug, req.Text, opts); ok {
			resp.Result, resp.Cached = out, true
			h.decorate(&resp, req.Text)
			h.record(c, slug, start, true, nil, attrs)
			return c.JSON(http.StatusOK, resp)
		}
	}

	out, err := run(req.Action, req.Text)
	if err != nil {
		return h.fail(c, slug, start, err, attrs)
	}
	if cacheable {
		h.deps.Cache.Set(ctx, slug, req.Text, out, opts)
	}

	resp.Result = out
	h.decorate(&resp, req.Text)
	h.record(c, slug, start, false, nil, attrs)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) decorate(resp *textResponse, input string) {
	if resp.Tool == tools.SlugJSONFormatter && resp.Action == tools.ActionValidate {
		s := tools.SummarizeJSON(input)
		resp.Summary = &s
	}
}

func (h *Handler) checkText(slug, text string) error {
	if text == "" {
		return core.NewInvalidRequestError("text is required", nil).WithTool(slug)
	}
	if limit := h.sizeLimit(slug); int64(len(text)) > limit {
		return core.NewPayloadTooLargeError(fmt.Sprintf("input too large: max %dMB", limit/mb)).WithTool(slug)
	}
	return nil
}

type decodeFileRequest struct {
	Text     string `json:"text" form:"text"`
	Filename string `json:"filename" form:"filename"`
}

// Base64DecodeFile handles POST /tools/base64/decode-file. The decoded bytes
// become a pipeline file that other tools can consume.
func (h *Handler) Base64DecodeFile(c echo.Context) error {
	const slug = tools.SlugBase64
	start := time.Now()

	var req decodeFileRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, slug, start, core.NewInvalidRequestError("invalid request body", err).WithTool(slug), nil)
	}
	attrs := map[string]any{"action": "decode-file", "input_size": len(req.Text)}
	if err := h.checkText(slug, req.Text); err != nil {
		return h.fail(c, slug, start, err, attrs)
	}
	if h.deps.Pipeline == nil {
		return h.fail(c, slug, start, core.NewInternalError("pipeline storage is not configured", nil).WithTool(slug), attrs)
	}

	data, err := tools.DecodeBase64(req.Text)
	if err != nil {
		return h.fail(c, slug, start, err, attrs)
	}
	attrs["output_size"] = len(data)

	name := req.Filename
	if name == "" {
		name = "decoded.bin"
	}

	token, err := h.stageAndShare(c, slug, name, data)
	if err != nil {
		return h.fail(c, slug, start, core.NewInternalError("failed to store decoded file", err).WithTool(slug), attrs)
	}

	f, ok := h.deps.Pipeline.Resolve(token)
	if !ok {
		return h.fail(c, slug, start, core.NewInternalError("decoded file vanished", nil).WithTool(slug), attrs)
	}

	h.record(c, slug, start, false, nil, attrs)
	return c.JSON(http.StatusCreated, h.fileView(f))
}

// stageAndShare writes data to a scratch file and registers it as a
// pipeline file. The scratch copy is removed either way.
func (h *Handler) stageAndShare(c echo.Context, slug, name string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(h.deps.TempDir, slug+"-*")
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close scratch file: %w", err)
	}

	return h.deps.Pipeline.Create(c.Request().Context(), pipeline.CreateParams{
		SourceTool:   slug,
		SourcePath:   tmp.Name(),
		OriginalName: name,
	})
}
