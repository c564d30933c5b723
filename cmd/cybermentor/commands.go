package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/cybermentor/internal/config"
)

// sourceRef is the wire form of a selected source.
type sourceRef struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// parseSources turns repeated "name" or "name:type" flag values into
// selected sources.
func parseSources(values []string) []sourceRef {
	var out []sourceRef
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		name, typ, _ := strings.Cut(v, ":")
		out = append(out, sourceRef{Name: strings.TrimSpace(name), Type: strings.TrimSpace(typ)})
	}
	return out
}

// --- ask ---

type askRequest struct {
	UserInput       string      `json:"user_input"`
	SelectedSources []sourceRef `json:"selected_sources,omitempty"`
}

type askResult struct {
	Intent   string      `json:"intent"`
	Strategy string      `json:"strategy"`
	Text     string      `json:"text"`
	Sources  []string    `json:"sources"`
	Plan     orderedPlan `json:"plan"`
	Tool     *struct {
		Command  string `json:"command"`
		Executed bool   `json:"executed"`
		Success  bool   `json:"success"`
	} `json:"tool"`
}

// orderedPlan keeps the stage outputs in the order the server wrote them.
type orderedPlan struct {
	keys   []string
	values map[string]string
}

func (p *orderedPlan) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	p.values = make(map[string]string)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected plan key %v", tok)
		}
		var v string
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("plan value %q: %w", key, err)
		}
		p.keys = append(p.keys, key)
		p.values[key] = v
	}
	return nil
}

var stageTitles = map[string]string{
	"recon_results":           "Reconnaissance",
	"analysis_results":        "Analysis",
	"exploitation_results":    "Exploitation",
	"actionable_intelligence": "Actionable intelligence",
	"manual_guide":            "Manual testing guide",
}

func runAsk(ctx context.Context, c *apiClient, w io.Writer, req askRequest, showPlan bool) error {
	resp, err := c.post(ctx, "/v1/ask", req)
	if err != nil {
		return err
	}

	var res askResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}

	printStep("intent %s, strategy %s", res.Intent, res.Strategy)
	if res.Tool != nil && res.Tool.Executed {
		if res.Tool.Success {
			printSuccess("ran %s", res.Tool.Command)
		} else {
			printWarning("%s failed", res.Tool.Command)
		}
	}

	if res.Strategy == "pipeline" && showPlan {
		for _, k := range res.Plan.keys {
			title, ok := stageTitles[k]
			if !ok {
				continue
			}
			fmt.Fprintln(w, header(title))
			fmt.Fprintln(w, renderMarkdown(res.Plan.values[k]))
			fmt.Fprintln(w)
		}
	} else {
		fmt.Fprintln(w, renderMarkdown(res.Text))
	}

	if len(res.Sources) > 0 {
		printStatus("Sources", "%s", strings.Join(res.Sources, ", "))
	}
	return nil
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the assistant a question",
	Long: `Ask the assistant a question. The request is classified and routed to a
tool run, a direct answer, or the planning pipeline.

Examples:
  cybermentor ask "what is CVE-2021-44228?"
  cybermentor ask "scan 10.0.0.5 for open ports"
  cybermentor ask --source owasp-top10 --plan "plan a test of https://shop.local"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, _ := cmd.Flags().GetStringArray("source")
		showPlan, _ := cmd.Flags().GetBool("plan")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := askRequest{
			UserInput:       strings.Join(args, " "),
			SelectedSources: parseSources(sources),
		}
		return runAsk(cmd.Context(), client, cmd.OutOrStdout(), req, showPlan)
	},
}

func init() {
	askCmd.Flags().StringArray("source", nil, `restrict retrieval to a source ("name" or "name:type"), repeatable`)
	askCmd.Flags().Bool("plan", false, "print every stage of a generated plan")
}

// --- search ---

type searchResult struct {
	Chunks []struct {
		Source     string `json:"source"`
		ChunkIndex int    `json:"chunk_index"`
		Text       string `json:"text"`
		Reason     string `json:"reason"`
	} `json:"chunks"`
	NoMatchingSources bool `json:"no_matching_sources"`
}

func runSearch(ctx context.Context, c *apiClient, w io.Writer, query string, sources []sourceRef) error {
	resp, err := c.post(ctx, "/v1/search", map[string]any{
		"query":            query,
		"selected_sources": sources,
	})
	if err != nil {
		return err
	}

	var res searchResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}

	if res.NoMatchingSources {
		printWarning("no matching content in the selected sources")
		return nil
	}
	if len(res.Chunks) == 0 {
		printWarning("no results")
		return nil
	}

	for i, ch := range res.Chunks {
		fmt.Fprintf(w, "%s %s #%d (%s)\n", colorize(boldColor, fmt.Sprintf("[%d]", i+1)), ch.Source, ch.ChunkIndex, ch.Reason)
		fmt.Fprintln(w, strings.TrimSpace(ch.Text))
		fmt.Fprintln(w)
	}
	return nil
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base without generating an answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, _ := cmd.Flags().GetStringArray("source")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSearch(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "), parseSources(sources))
	},
}

func init() {
	searchCmd.Flags().StringArray("source", nil, `restrict results to a source ("name" or "name:type"), repeatable`)
}

// --- ingest ---

// buildIngestRequest maps CLI flags to an /ingest body. Exactly one of
// text, url and file must be set.
func buildIngestRequest(text, rawURL, file, source, summary string) (map[string]any, error) {
	set := 0
	for _, v := range []string{text, rawURL, file} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of --text, --url, or --file is required")
	}

	req := map[string]any{}
	if summary != "" {
		req["summary"] = summary
	}

	switch {
	case text != "":
		if source == "" {
			return nil, fmt.Errorf("--source is required with --text")
		}
		req["type"] = "text"
		req["content"] = text
	case rawURL != "":
		req["type"] = "url"
		req["url"] = rawURL
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		req["type"] = "file"
		req["content"] = string(data)
		if source == "" {
			source = filepath.Base(file)
		}
	}
	if source != "" {
		req["source"] = source
	}
	return req, nil
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a document to the knowledge base",
	Long: `Add a document to the knowledge base. Indexing runs in the background;
re-ingesting a source replaces its chunks.

Examples:
  cybermentor ingest --file ./owasp-top10.md
  cybermentor ingest --url https://example.com/advisory --source advisory-42
  cybermentor ingest --text "Port 8443 runs the admin panel" --source engagement-notes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")
		summary, _ := cmd.Flags().GetString("summary")

		req, err := buildIngestRequest(text, rawURL, file, source, summary)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued job %s", result["id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("source", "", "source name (defaults to the file name)")
	ingestCmd.Flags().String("summary", "", "short description of the source")
}

// --- sources ---

type sourceInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	Chunks     int    `json:"chunks"`
	UploadedAt string `json:"uploaded_at"`
	Summary    string `json:"summary"`

	SuggestedQuestions []string `json:"suggested_questions"`
}

func runListSources(ctx context.Context, c *apiClient, w io.Writer, typ string) error {
	path := "/sources"
	if typ != "" {
		path += "?type=" + url.QueryEscape(typ)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}

	var sources []sourceInfo
	if err := decodeJSON(resp, &sources); err != nil {
		return err
	}

	if len(sources) == 0 {
		printWarning("no sources indexed")
		return nil
	}
	for _, s := range sources {
		fmt.Fprintf(w, "  %s [%s] %d chunks, %d bytes, %s\n", colorize(boldColor, s.Name), s.Type, s.Chunks, s.Size, s.UploadedAt)
		if s.Summary != "" {
			fmt.Fprintf(w, "      %s\n", s.Summary)
		}
		for _, q := range s.SuggestedQuestions {
			fmt.Fprintf(w, "      ? %s\n", q)
		}
	}
	return nil
}

func runDeleteSource(ctx context.Context, c *apiClient, name string) error {
	resp, err := c.delete(ctx, "/sources/"+escapePath(name))
	if err != nil {
		return err
	}

	var result struct {
		ChunksRemoved int `json:"chunks_removed"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	printSuccess("Deleted %s (%d chunks)", name, result.ChunksRemoved)
	return nil
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage indexed sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runListSources(cmd.Context(), client, cmd.OutOrStdout(), typ)
	},
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a source and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runDeleteSource(cmd.Context(), client, args[0])
	},
}

func init() {
	sourcesListCmd.Flags().String("type", "", "only list sources of this type (text, file, url)")
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(boldColor, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
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
