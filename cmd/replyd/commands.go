package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tripdesk/replyd/internal/config"
	"github.com/tripdesk/replyd/internal/pipeline"
)

// --- draft ---

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Draft a reply to an inbound client email",
	Long: `Draft a reply to an inbound client email through the review pipeline.

Examples:
  replyd draft --subject "Bali trip" --body "Can you price a week in Bali?" --from alice@example.com
  replyd draft --subject "Re: itinerary" --file ./email.txt --client client-42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		body, _ := cmd.Flags().GetString("body")
		file, _ := cmd.Flags().GetString("file")
		from, _ := cmd.Flags().GetString("from")
		clientID, _ := cmd.Flags().GetString("client")
		threadID, _ := cmd.Flags().GetString("thread")

		if body == "" && file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			body = string(data)
		}
		if subject == "" || body == "" {
			return fmt.Errorf("--subject and one of --body or --file are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"original_email": map[string]any{
				"subject":   subject,
				"body":      body,
				"sender":    from,
				"thread_id": threadID,
			},
			"client_id": clientID,
		}

		printStep("Running reply pipeline...")
		resp, err := client.post(cmd.Context(), "/v1/replies", req)
		if err != nil {
			return err
		}

		var run pipeline.Run
		if err := decodeJSON(resp, &run); err != nil {
			return err
		}

		printRun(run)
		return nil
	},
}

func printRun(run pipeline.Run) {
	if run.Success {
		printSuccess("Pipeline completed (run %s)", run.ID)
	} else {
		printError("Pipeline failed (run %s)", run.ID)
		if run.AbortReason != "" {
			printStatus("Reason", "%s", run.AbortReason)
		}
	}

	for _, sr := range run.StageResults {
		printStatus(sr.Stage, "confidence %.2f (%dms)", sr.Confidence, sr.DurationMs)
		for _, issue := range sr.Issues {
			printIssue(issue)
		}
	}
	printStatus("Average confidence", "%.2f", run.AverageConfidence)

	if run.FinalDraft == nil {
		printWarning("No approved draft: human review required")
		return
	}

	fmt.Printf("\n%s %s\n\n", colorize(colorBold, "Subject:"), run.FinalDraft.Subject)
	fmt.Println(run.FinalDraft.Body)
}

func init() {
	draftCmd.Flags().String("subject", "", "email subject")
	draftCmd.Flags().String("body", "", "email body text")
	draftCmd.Flags().String("file", "", "read email body from file")
	draftCmd.Flags().String("from", "", "sender address")
	draftCmd.Flags().String("client", "", "CRM client id, enables stored context")
	draftCmd.Flags().String("thread", "", "email thread id")
}

// --- exchanges ---

var exchangesCmd = &cobra.Command{
	Use:   "exchanges",
	Short: "Inspect recorded email exchanges",
}

var exchangesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent exchanges",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		clientID, _ := cmd.Flags().GetString("client")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/exchanges?limit=%d", limit)
		if clientID != "" {
			path += "&client_id=" + clientID
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var exchanges []struct {
			ID             string  `json:"id"`
			Subject        string  `json:"subject"`
			Sender         string  `json:"sender"`
			Recommendation string  `json:"recommendation"`
			FinalScore     float64 `json:"final_score"`
			CreatedAt      string  `json:"created_at"`
		}
		if err := decodeJSON(resp, &exchanges); err != nil {
			return err
		}

		if len(exchanges) == 0 {
			printWarning("No exchanges recorded")
			return nil
		}
		for _, e := range exchanges {
			rec := e.Recommendation
			if rec == "" {
				rec = "aborted"
			}
			fmt.Printf("  %s  %-8s %5.1f  %s (%s)\n",
				e.ID, rec, e.FinalScore, e.Subject, e.Sender)
		}
		return nil
	},
}

var exchangesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one exchange with its stage audits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/exchanges/"+args[0])
		if err != nil {
			return err
		}

		var exchange any
		if err := decodeJSON(resp, &exchange); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(exchange)
	},
}

func init() {
	exchangesListCmd.Flags().Int("limit", 20, "max exchanges to list")
	exchangesListCmd.Flags().String("client", "", "filter by CRM client id")
	exchangesCmd.AddCommand(exchangesListCmd)
	exchangesCmd.AddCommand(exchangesShowCmd)
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage client context documents",
}

var documentsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a client context document",
	Long: `Store a client context document.

Examples:
  replyd documents add --text "Booking ref ABC123, Hilton Ubud 12-19 May" --client client-42
  replyd documents add --file ./itinerary.pdf --title "Bali itinerary" --client client-42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		clientID, _ := cmd.Flags().GetString("client")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]any{
			"source":    "cli",
			"client_id": clientID,
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["kind"] = "text"
			req["content"] = text
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if strings.EqualFold(filepath.Ext(file), ".pdf") {
				req["kind"] = "pdf"
				req["content"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["kind"] = "text"
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

		resp, err := client.post(cmd.Context(), "/v1/documents", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored document %s", result["id"])
		return nil
	},
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		clientID, _ := cmd.Flags().GetString("client")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/documents?limit=%d", limit)
		if clientID != "" {
			path += "&client_id=" + clientID
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var docs []struct {
			ID       string `json:"ID"`
			ClientID string `json:"ClientID"`
			Title    string `json:"Title"`
			Kind     string `json:"Kind"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			printWarning("No documents stored")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("  %s  %-4s %s (%s)\n", d.ID, d.Kind, d.Title, d.ClientID)
		}
		return nil
	},
}

var documentsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a stored document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	documentsAddCmd.Flags().String("text", "", "text content to store")
	documentsAddCmd.Flags().String("file", "", "file path (.pdf extracted as text)")
	documentsAddCmd.Flags().String("title", "", "title for the document")
	documentsAddCmd.Flags().String("client", "", "CRM client id")
	documentsListCmd.Flags().Int("limit", 20, "max documents to list")
	documentsListCmd.Flags().String("client", "", "filter by CRM client id")
	documentsCmd.AddCommand(documentsAddCmd)
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsRmCmd)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage agent drafting preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/preferences")
		if err != nil {
			return err
		}

		var prefs map[string]string
		if err := decodeJSON(resp, &prefs); err != nil {
			return err
		}

		if len(prefs) == 0 {
			printWarning("No preferences set")
			return nil
		}
		for k, v := range prefs {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k), v)
		}
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{key: value}
		resp, err := client.patch(cmd.Context(), "/v1/preferences", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, kv := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.Set(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
