package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/studygenie/studygenie/internal/scheduler"
)

// MCPDeps holds dependencies for the MCP server. The same collaborators
// back both the HTTP API and the MCP tools.
type MCPDeps struct {
	Retriever ChunkRetriever
	Composer  AnswerComposer
	Scheduler *scheduler.Service
	TopK      int
}

// NewMCPServer creates an MCP server exposing the tutor to agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"studygenie",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("studygenie — local study tutor with grounded Q&A over uploaded materials and spaced-repetition flashcards."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_tutor",
			mcp.WithDescription("Ask a question answered strictly from the uploaded study materials, with sources and a confidence score."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("document_id", mcp.Description("Restrict retrieval to one document")),
			mcp.WithString("language", mcp.Description("Answer language code (default en)")),
			mcp.WithNumber("top_k", mcp.Description("Number of chunks to retrieve")),
		),
		mcpAskTutor(deps),
	)

	s.AddTool(
		mcp.NewTool("list_due_cards",
			mcp.WithDescription("List flashcards currently due for review, most overdue first."),
			mcp.WithString("owner", mcp.Description("Owner id (default local)")),
		),
		mcpListDueCards(deps),
	)

	s.AddTool(
		mcp.NewTool("review_card",
			mcp.WithDescription("Record a flashcard review with a recall quality from 0 (blackout) to 5 (perfect)."),
			mcp.WithString("card_id", mcp.Description("Flashcard id"), mcp.Required()),
			mcp.WithNumber("quality", mcp.Description("Recall quality 0-5"), mcp.Required()),
		),
		mcpReviewCard(deps),
	)

	s.AddTool(
		mcp.NewTool("study_stats",
			mcp.WithDescription("Summarize the owner's flashcard progress: new, learning, mastered and due counts."),
			mcp.WithString("owner", mcp.Description("Owner id (default local)")),
		),
		mcpStudyStats(deps),
	)

	return s
}

func mcpOwner(req mcp.CallToolRequest) string {
	if owner := req.GetString("owner", ""); owner != "" {
		return owner
	}
	return "local"
}

func mcpAskTutor(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		topK := req.GetInt("top_k", deps.TopK)
		if topK <= 0 {
			topK = deps.TopK
		}
		documentID := req.GetString("document_id", "")
		language := req.GetString("language", "")

		chunks, err := deps.Retriever.Retrieve(ctx, question, mcpOwner(req), topK, documentID)
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}

		answer, err := deps.Composer.Answer(ctx, question, language, chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compose answer: %v", err)), nil
		}

		b, err := json.Marshal(answer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDueCards(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cards, err := deps.Scheduler.DueCards(mcpOwner(req), time.Time{})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list due cards: %v", err)), nil
		}
		if len(cards) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(flashcardViews(cards))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal cards: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReviewCard(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcpError("card_id is required"), nil
		}
		quality, err := req.RequireInt("quality")
		if err != nil {
			return mcpError("quality is required"), nil
		}

		card, err := deps.Scheduler.Review(cardID, quality)
		if err != nil {
			return mcpError(fmt.Sprintf("review failed: %v", err)), nil
		}

		b, err := json.Marshal(flashcardView(card))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal card: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStudyStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Scheduler.StudyStats(mcpOwner(req))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
