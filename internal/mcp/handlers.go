package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/reelnote/internal/classifier"
	"github.com/hpungsan/reelnote/internal/credential"
	"github.com/hpungsan/reelnote/internal/errors"
	"github.com/hpungsan/reelnote/internal/export"
	"github.com/hpungsan/reelnote/internal/pipeline"
	"github.com/hpungsan/reelnote/internal/reel"
)

// Handlers holds dependencies for MCP tool handlers. All tools share one
// session, so a share started by one call can be completed by the next.
type Handlers struct {
	session    *pipeline.Session
	metrics    *classifier.Metrics
	exportsDir string
}

// NewHandlers creates a new Handlers instance. metrics may be nil.
func NewHandlers(session *pipeline.Session, metrics *classifier.Metrics, exportsDir string) *Handlers {
	return &Handlers{session: session, metrics: metrics, exportsDir: exportsDir}
}

// Request types for each tool

// ShareRequest represents the arguments for reel_share.
type ShareRequest struct {
	Text string `json:"text"`
}

// SelectRequest represents the arguments for reel_select.
type SelectRequest struct {
	Category string `json:"category"`
	Notes    string `json:"notes,omitempty"`
}

// CancelRequest represents the arguments for reel_cancel.
type CancelRequest struct {
	Manual bool `json:"manual,omitempty"`
}

// ClassifyRequest represents the arguments for reel_classify.
type ClassifyRequest struct {
	Caption string `json:"caption"`
}

// SaveRequest represents the arguments for reel_save.
type SaveRequest struct {
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Category string `json:"category"`
	Notes    string `json:"notes,omitempty"`
}

// ListRequest represents the arguments for reel_list.
type ListRequest struct {
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// DeleteRequest represents the arguments for reel_delete.
type DeleteRequest struct {
	ID string `json:"id"`
}

// CategoryRequest represents the arguments for category_add and category_remove.
type CategoryRequest struct {
	Name string `json:"name"`
}

// SettingsSetRequest represents the arguments for settings_set.
type SettingsSetRequest struct {
	AutoSave *bool `json:"auto_save"`
}

// CredentialSetRequest represents the arguments for credential_set.
type CredentialSetRequest struct {
	APIKey string `json:"api_key"`
}

// ExportRequest represents the arguments for reel_export.
type ExportRequest struct {
	Path     string `json:"path,omitempty"`
	Format   string `json:"format,omitempty"`
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
}

// Output types

// CancelOutput is returned by reel_cancel.
type CancelOutput struct {
	Cancelled bool              `json:"cancelled"`
	Draft     *pipeline.Pending `json:"draft,omitempty"`
}

// PendingOutput is returned by reel_pending.
type PendingOutput struct {
	State   string            `json:"state"`
	Pending *pipeline.Pending `json:"pending,omitempty"`
}

// ListOutput is returned by reel_list.
type ListOutput struct {
	Items []reel.Record `json:"items"`
	Count int           `json:"count"`
	Total int           `json:"total"`
}

// DeleteOutput is returned by reel_delete.
type DeleteOutput struct {
	ID        string `json:"id"`
	Deleted   bool   `json:"deleted"`
	Remaining int    `json:"remaining"`
}

// CategoriesOutput is returned by the category tools.
type CategoriesOutput struct {
	Categories []string `json:"categories"`
	Custom     []string `json:"custom"`
	InUse      []string `json:"in_use"`
}

// CredentialOutput is returned by the credential tools.
type CredentialOutput struct {
	Present bool   `json:"present"`
	Masked  string `json:"masked,omitempty"`
}

// HandleShare handles the reel_share tool call.
func (h *Handlers) HandleShare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ShareRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	prompt, err := h.session.Share(ctx, input.Text)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(prompt)
}

// HandleSelect handles the reel_select tool call.
func (h *Handlers) HandleSelect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SelectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	rec, err := h.session.Select(ctx, input.Category, input.Notes)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(rec)
}

// HandleCancel handles the reel_cancel tool call.
func (h *Handlers) HandleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CancelRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.Manual {
		draft, ok := h.session.SwitchToManual()
		if !ok {
			return errorResult(errors.NewNoPending()), nil
		}
		return successResult(CancelOutput{Cancelled: true, Draft: &draft})
	}

	_, ok := h.session.Cancel()
	return successResult(CancelOutput{Cancelled: ok})
}

// HandlePending handles the reel_pending tool call.
func (h *Handlers) HandlePending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := PendingOutput{State: h.session.State().String()}
	if p, ok := h.session.Pending(); ok {
		out.Pending = &p
	}
	return successResult(out)
}

// HandleClassify handles the reel_classify tool call.
func (h *Handlers) HandleClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClassifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	cat, err := h.session.ClassifyText(ctx, input.Caption)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]string{"category": cat})
}

// HandleSave handles the reel_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	rec, err := h.session.SaveManual(ctx, pipeline.ManualInput{
		URL:      input.URL,
		Caption:  input.Caption,
		Category: input.Category,
		Notes:    input.Notes,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(rec)
}

// HandleList handles the reel_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must not be negative")), nil
	}

	store := h.session.Reels()
	out := ListOutput{Items: []reel.Record{}, Total: store.Len()}
	for r := range store.Query(reel.Query{Search: input.Search, Category: input.Category}) {
		if input.Limit > 0 && len(out.Items) >= input.Limit {
			break
		}
		out.Items = append(out.Items, r)
	}
	out.Count = len(out.Items)
	return successResult(out)
}

// HandleDelete handles the reel_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.ID) == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	store := h.session.Reels()
	_, getErr := store.Get(input.ID)
	remaining, err := store.Delete(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(DeleteOutput{ID: input.ID, Deleted: getErr == nil, Remaining: len(remaining)})
}

// HandleCategoryList handles the category_list tool call.
func (h *Handlers) HandleCategoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.categories())
}

// HandleCategoryAdd handles the category_add tool call.
func (h *Handlers) HandleCategoryAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CategoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.session.Registry().Add(ctx, input.Name); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.categories())
}

// HandleCategoryRemove handles the category_remove tool call.
func (h *Handlers) HandleCategoryRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CategoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.session.Registry().Remove(ctx, input.Name); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.categories())
}

func (h *Handlers) categories() CategoriesOutput {
	custom := h.session.Registry().Custom()
	inUse := h.session.Reels().Categories()
	if custom == nil {
		custom = []string{}
	}
	if inUse == nil {
		inUse = []string{}
	}
	return CategoriesOutput{
		Categories: h.session.Registry().ListAll(),
		Custom:     custom,
		InUse:      inUse,
	}
}

// HandleSettingsGet handles the settings_get tool call.
func (h *Handlers) HandleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.session.Settings())
}

// HandleSettingsSet handles the settings_set tool call.
func (h *Handlers) HandleSettingsSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsSetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.AutoSave == nil {
		return errorResult(errors.NewInvalidRequest("auto_save is required")), nil
	}

	s, err := h.session.SetAutoSave(ctx, *input.AutoSave)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(s)
}

// HandleCredentialSet handles the credential_set tool call.
func (h *Handlers) HandleCredentialSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CredentialSetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.session.Credentials().Set(ctx, input.APIKey); err != nil {
		return errorResult(err), nil
	}
	return successResult(CredentialOutput{Present: true, Masked: credential.Masked(input.APIKey)})
}

// HandleCredentialStatus handles the credential_status tool call.
func (h *Handlers) HandleCredentialStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, ok := h.session.Credentials().Get(ctx)
	if !ok {
		return successResult(CredentialOutput{Present: false})
	}
	return successResult(CredentialOutput{Present: true, Masked: credential.Masked(key)})
}

// HandleExport handles the reel_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := export.Export(ctx, h.session.Reels(), h.exportsDir, export.Input{
		Path:   input.Path,
		Format: format,
		Query:  reel.Query{Search: input.Search, Category: input.Category},
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStats handles the classifier_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counters := map[string]float64{}
	if h.metrics != nil {
		snap, err := h.metrics.Snapshot()
		if err != nil {
			return errorResult(errors.NewInternal(err)), nil
		}
		counters = snap
	}
	return successResult(map[string]any{"counters": counters})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal and storage error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if reelErr, ok := errors.As(err); ok {
		message := reelErr.Message
		if wrapped := err.Error(); wrapped != reelErr.Error() {
			// Keep wrapper context like "items[2]: ..." from fmt.Errorf
			message = strings.TrimSuffix(wrapped, reelErr.Error()) + reelErr.Message
		}

		errorObj := map[string]any{
			"code":    reelErr.Code,
			"message": message,
			"status":  reelErr.Status,
		}
		switch reelErr.Code {
		case errors.ErrInternal:
			errorObj["message"] = "an internal error occurred"
		case errors.ErrPersistenceFailure:
			errorObj["message"] = "local storage is unavailable"
		default:
			if reelErr.Details != nil {
				errorObj["details"] = reelErr.Details
			}
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
