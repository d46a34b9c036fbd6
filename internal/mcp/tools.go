package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var shareToolDef = mcp.NewTool("reel_share",
	mcp.WithDescription("Share content (an Instagram link and/or caption text). Extracts the link, "+
		"classifies the caption for category suggestions when auto-save is on and an API key is stored, "+
		"and holds the content pending until reel_select or reel_cancel. Only one item can be pending."),
	mcp.WithString("text", mcp.Required(), mcp.Description("Shared text, e.g. a reel URL with optional caption")),
)

var selectToolDef = mcp.NewTool("reel_select",
	mcp.WithDescription("Save the pending content under a category. Unknown categories are created; "+
		"if the save fails a category created by this call is removed again."),
	mcp.WithString("category", mcp.Required(), mcp.Description("Category name (matched case-insensitively)")),
	mcp.WithString("notes", mcp.Description("Optional notes stored with the reel")),
)

var cancelToolDef = mcp.NewTool("reel_cancel",
	mcp.WithDescription("Discard the pending content. Nothing is written to storage. "+
		"With manual=true the discarded content is returned so it can be saved with reel_save."),
	mcp.WithBoolean("manual", mcp.Description("Return the pending content as a manual draft")),
)

var pendingToolDef = mcp.NewTool("reel_pending",
	mcp.WithDescription("Show the share flow state and any pending content."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var classifyToolDef = mcp.NewTool("reel_classify",
	mcp.WithDescription("Classify caption text into one fixed category "+
		"(Motivational, Gym, Communication, Ideas, Coding, UI, ML-AI, Job, Internships, love, sayari, songs, or Other). "+
		"Requires a stored API key."),
	mcp.WithString("caption", mcp.Required(), mcp.Description("Caption text to classify")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var saveToolDef = mcp.NewTool("reel_save",
	mcp.WithDescription("Save a reel directly without suggestions. The category is stored as given."),
	mcp.WithString("caption", mcp.Description("Caption text")),
	mcp.WithString("url", mcp.Description("Reel URL (defaults to the caption)")),
	mcp.WithString("category", mcp.Required(), mcp.Description("Category name")),
	mcp.WithString("notes", mcp.Description("Optional notes")),
)

var listToolDef = mcp.NewTool("reel_list",
	mcp.WithDescription("List saved reels, newest first. search matches caption or category "+
		"case-insensitively and takes precedence over category."),
	mcp.WithString("search", mcp.Description("Case-insensitive substring of caption or category")),
	mcp.WithString("category", mcp.Description("Exact category, or All")),
	mcp.WithNumber("limit", mcp.Description("Maximum items to return (0 = all)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var deleteToolDef = mcp.NewTool("reel_delete",
	mcp.WithDescription("Delete a saved reel by id. Deleting an unknown id is a no-op."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Reel id")),
	mcp.WithDestructiveHintAnnotation(true),
)

var categoryListToolDef = mcp.NewTool("category_list",
	mcp.WithDescription("List all categories (built-in and custom, sorted) and the custom ones separately."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var categoryAddToolDef = mcp.NewTool("category_add",
	mcp.WithDescription("Add a custom category. Fails with DUPLICATE_CATEGORY if it exists, ignoring case."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Category name")),
)

var categoryRemoveToolDef = mcp.NewTool("category_remove",
	mcp.WithDescription("Remove a custom category. Built-in or unknown names are a no-op. Saved reels keep their category."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Category name")),
	mcp.WithDestructiveHintAnnotation(true),
)

var settingsGetToolDef = mcp.NewTool("settings_get",
	mcp.WithDescription("Show settings."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var settingsSetToolDef = mcp.NewTool("settings_set",
	mcp.WithDescription("Update settings."),
	mcp.WithBoolean("auto_save", mcp.Required(), mcp.Description("Classify shared content automatically")),
)

var credentialSetToolDef = mcp.NewTool("credential_set",
	mcp.WithDescription("Store the Gemini API key used for classification."),
	mcp.WithString("api_key", mcp.Required(), mcp.Description("Gemini API key")),
)

var credentialStatusToolDef = mcp.NewTool("credential_status",
	mcp.WithDescription("Report whether an API key is stored, masked."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var exportToolDef = mcp.NewTool("reel_export",
	mcp.WithDescription("Export saved reels to a jsonl, markdown or html file. "+
		"Defaults to ~/.reelnote/exports/reels-<timestamp>.<ext>."),
	mcp.WithString("path", mcp.Description("Destination file; extension must match the format")),
	mcp.WithString("format", mcp.Description("jsonl (default), markdown or html"), mcp.Enum("jsonl", "markdown", "md", "html")),
	mcp.WithString("search", mcp.Description("Only export reels matching this search")),
	mcp.WithString("category", mcp.Description("Only export this category")),
)

var statsToolDef = mcp.NewTool("classifier_stats",
	mcp.WithDescription("Classifier counters for this server process: requests per model and outcome, "+
		"fallbacks, cache hits and misses, degraded suggestions."),
	mcp.WithReadOnlyHintAnnotation(true),
)
