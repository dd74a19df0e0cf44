package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/solatis/policydesk/internal/client"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a credit agreement from a document, text or multimodal sources",
	Long: `Send one extraction request. Any --audio/--image/--document/--source-text
input selects multimodal fusion; otherwise --file uploads a document;
otherwise --text is extracted directly. Structured payloads are given as
@file or inline JSON.`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	f := extractCmd.Flags()
	f.String("file", "", "document to upload")
	f.String("text", "", "agreement text to extract from")
	for _, name := range []string{"audio", "image", "document", "source-text"} {
		f.String(name, "", name+" transcription or OCR text for fusion")
		f.String(name+"-cdm", "", name+" structured payload for fusion (JSON or @file)")
	}
	f.Bool("json", false, "print the raw response")
}

func sourceFlags(cmd *cobra.Command, name string) (*client.Source, error) {
	text, _ := cmd.Flags().GetString(name)
	raw, _ := cmd.Flags().GetString(name + "-cdm")
	if text == "" && raw == "" {
		return nil, nil
	}
	src := &client.Source{Text: text}
	if raw != "" {
		data := []byte(raw)
		if raw[0] == '@' {
			var err error
			if data, err = readInput(cmd, raw[1:]); err != nil {
				return nil, err
			}
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("--%s-cdm is not valid JSON", name)
		}
		src.Structured = data
	}
	return src, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	var req client.ExtractRequest
	var err error
	if req.Audio, err = sourceFlags(cmd, "audio"); err != nil {
		return err
	}
	if req.Image, err = sourceFlags(cmd, "image"); err != nil {
		return err
	}
	if req.Document, err = sourceFlags(cmd, "document"); err != nil {
		return err
	}
	if req.Text, err = sourceFlags(cmd, "source-text"); err != nil {
		return err
	}
	req.PlainText, _ = cmd.Flags().GetString("text")

	if path, _ := cmd.Flags().GetString("file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		req.File = &client.File{Name: filepath.Base(path), Content: f}
	}

	c, err := remoteClient(cmd)
	if err != nil {
		return err
	}
	res, err := c.Extract(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		_, err := out.Write(append(res.Raw, '\n'))
		return err
	}
	switch res.Status {
	case client.StatusSuccess:
		okColor.Fprintln(out, res.UserMessage())
	case client.StatusPartialDataMissing:
		warnColor.Fprintln(out, res.UserMessage())
	default:
		errorColor.Fprintln(out, res.UserMessage())
	}
	if len(res.Agreement) > 0 {
		var v any
		if err := json.Unmarshal(res.Agreement, &v); err == nil {
			return printJSON(out, v)
		}
	}
	if res.Status == client.StatusError {
		return fmt.Errorf("extraction failed")
	}
	return nil
}
