package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload study material into the library",
	Long: `Upload study material into the library.

Examples:
  studygenie upload --text "Mitochondria produce ATP" --title "Cell notes"
  studygenie upload --file ./biology.pdf
  studygenie upload --url https://example.com/photosynthesis --title "Photosynthesis"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		language, _ := cmd.Flags().GetString("language")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}
		if language != "" {
			req["language"] = language
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if strings.EqualFold(filepath.Ext(file), ".pdf") {
				req["type"] = "pdf"
				req["content"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["type"] = "text"
				req["content"] = string(data)
			}
			if title == "" {
				req["title"] = filepath.Base(file)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			ID         string `json:"id"`
			ChunkCount int    `json:"chunk_count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Indexed document %s (%d chunks)", result.ID, result.ChunkCount)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("text", "", "text content to upload")
	uploadCmd.Flags().String("url", "", "URL to fetch and upload")
	uploadCmd.Flags().String("file", "", "file path to upload (.pdf or plain text)")
	uploadCmd.Flags().String("title", "", "title for the document")
	uploadCmd.Flags().String("language", "", "language code (en, hi, mr)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from your uploaded materials",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		docID, _ := cmd.Flags().GetString("doc")
		topK, _ := cmd.Flags().GetInt("top-k")
		language, _ := cmd.Flags().GetString("language")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"question": question}
		if docID != "" {
			req["document_id"] = docID
		}
		if topK > 0 {
			req["top_k"] = topK
		}
		if language != "" {
			req["language"] = language
		}

		resp, err := client.post(cmd.Context(), "/ask", req)
		if err != nil {
			return err
		}

		var answer struct {
			Text    string `json:"answer"`
			Sources []struct {
				DocumentID string `json:"document_id"`
				Ordinal    int    `json:"ordinal"`
				DocTitle   string `json:"doc_title"`
			} `json:"sources"`
			Confidence float64 `json:"confidence"`
		}
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Text)
		if len(answer.Sources) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Sources:"))
			for _, s := range answer.Sources {
				label := s.DocTitle
				if label == "" {
					label = s.DocumentID
				}
				fmt.Printf("  - %s (chunk %d)\n", label, s.Ordinal)
			}
		}
		fmt.Printf("\n%s %.0f%%\n", colorize(colorBold, "Confidence:"), answer.Confidence*100)
		return nil
	},
}

func init() {
	askCmd.Flags().String("doc", "", "restrict retrieval to one document id")
	askCmd.Flags().Int("top-k", 0, "number of chunks to retrieve")
	askCmd.Flags().String("language", "", "answer language code")
}

// --- cards ---

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Generate and review flashcards",
}

var cardsGenerateCmd = &cobra.Command{
	Use:   "generate <document-id>",
	Short: "Generate flashcards from a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"document_id": args[0]}
		if count > 0 {
			req["count"] = count
		}

		resp, err := client.post(cmd.Context(), "/flashcards/generate", req)
		if err != nil {
			return err
		}

		var result struct {
			Cards []cardView `json:"cards"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Generated %d flashcards", len(result.Cards))
		return nil
	},
}

type cardView struct {
	ID           string  `json:"id"`
	Front        string  `json:"front"`
	Back         string  `json:"back"`
	Topic        string  `json:"topic"`
	Difficulty   string  `json:"difficulty"`
	Repetitions  int     `json:"repetitions"`
	EaseFactor   float64 `json:"ease_factor"`
	IntervalDays int     `json:"interval_days"`
	NextReviewAt string  `json:"next_review_at"`
}

// shortID abbreviates an id for table display. Server ids are UUIDs,
// but short ids from other tooling pass through unchanged.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var cardsDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List flashcards due for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/flashcards/due")
		if err != nil {
			return err
		}

		var due []cardView
		if err := decodeJSON(resp, &due); err != nil {
			return err
		}

		if len(due) == 0 {
			fmt.Println("No cards due. Nice work!")
			return nil
		}

		rows := make([][]string, len(due))
		for i, c := range due {
			front := c.Front
			if len(front) > 60 {
				front = front[:60] + "..."
			}
			rows[i] = []string{
				shortID(c.ID),
				front,
				c.Topic,
				strconv.Itoa(c.Repetitions),
				strconv.Itoa(c.IntervalDays),
			}
		}
		fmt.Println(renderTable(
			[]string{"ID", "Front", "Topic", "Reps", "Interval (d)"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
		))
		return nil
	},
}

var cardsReviewCmd = &cobra.Command{
	Use:   "review <card-id> <quality>",
	Short: "Record a review with recall quality 0 (blackout) to 5 (perfect)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		quality, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("quality must be a number between 0 and 5")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/flashcards/"+args[0]+"/review", map[string]int{"quality": quality})
		if err != nil {
			return err
		}

		var card cardView
		if err := decodeJSON(resp, &card); err != nil {
			return err
		}

		printSuccess("Next review in %d day(s) (ease %.2f)", card.IntervalDays, card.EaseFactor)
		return nil
	},
}

func init() {
	cardsGenerateCmd.Flags().Int("count", 0, "number of cards to generate")
	cardsCmd.AddCommand(cardsGenerateCmd)
	cardsCmd.AddCommand(cardsDueCmd)
	cardsCmd.AddCommand(cardsReviewCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show study statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			Total    int `json:"total"`
			New      int `json:"new"`
			Learning int `json:"learning"`
			Mastered int `json:"mastered"`
			Due      int `json:"due"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		fmt.Println(renderTable(
			[]string{"Total", "New", "Learning", "Mastered", "Due"},
			[][]string{{
				strconv.Itoa(stats.Total),
				strconv.Itoa(stats.New),
				strconv.Itoa(stats.Learning),
				strconv.Itoa(stats.Mastered),
				strconv.Itoa(stats.Due),
			}},
			[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
		))
		return nil
	},
}

// --- topics ---

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Show topics that need more practice",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/progress/weak-topics")
		if err != nil {
			return err
		}

		var topics []struct {
			Topic    string  `json:"topic"`
			Accuracy float64 `json:"accuracy"`
			Attempts int     `json:"attempts"`
		}
		if err := decodeJSON(resp, &topics); err != nil {
			return err
		}

		if len(topics) == 0 {
			fmt.Println("No weak topics found.")
			return nil
		}

		rows := make([][]string, len(topics))
		for i, tp := range topics {
			rows[i] = []string{
				tp.Topic,
				fmt.Sprintf("%.0f%%", tp.Accuracy*100),
				strconv.Itoa(tp.Attempts),
			}
		}
		fmt.Println(renderTable(
			[]string{"Topic", "Accuracy", "Attempts"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight},
		))
		return nil
	},
}
