package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit an image or PDF for OCR",
	Long: `Submit an image or PDF for OCR.

Examples:
  ocrd submit scan.png
  ocrd submit --engine tesseract --languages eng+deu --psm 6 invoice.pdf
  ocrd submit --engine vision --level accurate --sync photo.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engineName, _ := cmd.Flags().GetString("engine")
		languages, _ := cmd.Flags().GetString("languages")
		psm, _ := cmd.Flags().GetString("psm")
		oem, _ := cmd.Flags().GetString("oem")
		dpi, _ := cmd.Flags().GetString("dpi")
		level, _ := cmd.Flags().GetString("level")
		sync, _ := cmd.Flags().GetBool("sync")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		fields := map[string]string{
			"engine":            engineName,
			"languages":         languages,
			"psm":               psm,
			"oem":               oem,
			"dpi":               dpi,
			"recognition_level": level,
		}

		if sync {
			resp, err := client.postFile(cmd.Context(), "/v1/ocr/sync", args[0], fields)
			if err != nil {
				return err
			}
			return writeDocument(resp, output)
		}

		resp, err := client.postFile(cmd.Context(), "/v1/ocr", args[0], fields)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s", result["job_id"])
		fmt.Println(result["job_id"])
		return nil
	},
}

func init() {
	submitCmd.Flags().String("engine", "", "OCR engine: tesseract, vision, livetext, easyocr")
	submitCmd.Flags().String("languages", "", "language list, e.g. eng+deu or en-US,de-DE")
	submitCmd.Flags().String("psm", "", "tesseract page segmentation mode (0-13)")
	submitCmd.Flags().String("oem", "", "tesseract engine mode (0-3)")
	submitCmd.Flags().String("dpi", "", "tesseract DPI hint (70-2400)")
	submitCmd.Flags().String("level", "", "vision recognition level: fast, balanced, accurate")
	submitCmd.Flags().Bool("sync", false, "wait for the result instead of queueing")
	submitCmd.Flags().String("output", "", "write the hOCR document to this file (with --sync)")
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show the status of an OCR job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/ocr/"+args[0])
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		printStatus("Job", "%v", job["job_id"])
		printStatus("Status", "%v", job["status"])
		printStatus("Engine", "%v", job["engine"])
		if errInfo, ok := job["error"].(map[string]any); ok {
			printStatus("Error", "%v: %v", errInfo["kind"], errInfo["message"])
		}
		return nil
	},
}

// --- result ---

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Fetch the hOCR document of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/ocr/"+args[0]+"/result")
		if err != nil {
			return err
		}
		return writeDocument(resp, output)
	},
}

func init() {
	resultCmd.Flags().String("output", "", "write the hOCR document to this file (default: stdout)")
}

// --- engines ---

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List OCR engines and their availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/engines")
		if err != nil {
			return err
		}
		var body struct {
			Engines []struct {
				Engine       string `json:"engine"`
				Available    bool   `json:"available"`
				MinOSVersion string `json:"min_os_version"`
				Detail       string `json:"detail"`
			} `json:"engines"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		for _, e := range body.Engines {
			switch {
			case e.Available:
				printStatus(e.Engine, "available")
			case e.Detail != "":
				printStatus(e.Engine, "unavailable (%s)", e.Detail)
			default:
				printStatus(e.Engine, "unavailable")
			}
		}
		return nil
	},
}

// writeDocument streams a document response to the output file or stdout.
func writeDocument(resp *http.Response, output string) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Type, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var dst io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		dst = f
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return err
	}
	if output != "" {
		printSuccess("Result written to %s", output)
	}
	return nil
}
