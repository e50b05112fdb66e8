package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/digitorus/htmlpdfsign"
	"github.com/digitorus/htmlpdfsign/htmldoc"
)

func (a *app) signCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <input.pdf>...",
		Short: "Sign PDF files",
		Long: "Append a visible signature page and a detached CMS signature to each PDF.\n" +
			"The result is written to <stem>-signed.pdf next to the input or in --output-dir.",
		Example: `  htmlpdfsign sign -k signing.p12 --reason Approved invoice.pdf
  HTMLPDFSIGN_KEYSTORE_PASSWORD=secret htmlpdfsign sign -c htmlpdfsign.toml *.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.withFinish(func() error { return a.runSign(cmd, args) })
		},
	}
	a.signingFlags(cmd)
	return cmd
}

func (a *app) runSign(cmd *cobra.Command, inputs []string) error {
	s, err := htmlpdfsign.Open(a.cfg, a.log, a.metrics)
	if err != nil {
		return err
	}

	results, err := s.SignFiles(cmd.Context(), inputs)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %v\n", r.Input, htmlpdfsign.Kind(r.Err), r.Err)
			continue
		}
		printSigned(cmd.OutOrStdout(), cmd.ErrOrStderr(), r.Info)
	}
	if err != nil {
		if len(inputs) == 1 {
			return results[0].Err
		}
		return fmt.Errorf("%d of %d documents failed: %w", failed, len(inputs), err)
	}
	return nil
}

func (a *app) renderCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render <file.html|url|->",
		Short: "Render an HTML document to PDF and sign it",
		Long: "Render an HTML file, a file:// or http(s) URL, or standard input (-) to PDF\n" +
			"and sign the result.",
		Example: `  htmlpdfsign render -k signing.p12 report.html
  htmlpdfsign render -k signing.p12 https://example.com/invoice.html -o out/
  curl -s https://example.com/ | htmlpdfsign render -k signing.p12 --output example.pdf -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.withFinish(func() error { return a.runRender(cmd, args[0], output) })
		},
	}
	a.signingFlags(cmd)
	cmd.Flags().StringVar(&a.pageSize, "page-size", "", "Page size: A3, A4, A5, Letter or Legal")
	cmd.Flags().StringVar(&output, "output", "", "Signed PDF to write (default: <stem>-signed.pdf)")
	return cmd
}

func (a *app) runRender(cmd *cobra.Command, source, output string) error {
	s, err := htmlpdfsign.Open(a.cfg, a.log, a.metrics)
	if err != nil {
		return err
	}

	var info *htmlpdfsign.SignatureInfo
	switch {
	case source == "-":
		doc, err := htmldoc.Parse(io.LimitReader(cmd.InOrStdin(), htmldoc.MaxDocumentSize), nil)
		if err != nil {
			return &htmlpdfsign.IOError{Op: "read", Path: "stdin", Err: err}
		}
		if output == "" {
			dir := a.cfg.Output.Directory
			if dir == "" {
				dir = "."
			}
			output = htmlpdfsign.OutputPath(dir, "document")
		}
		info, err = s.RenderAndSignTo(cmd.Context(), doc, output)
		if err != nil {
			return err
		}
	case output != "":
		doc, err := htmldoc.Fetch(cmd.Context(), source, a.cfg.Timeout)
		if err != nil {
			return &htmlpdfsign.IOError{Op: "fetch", Path: source, Err: err}
		}
		info, err = s.RenderAndSignTo(cmd.Context(), doc, output)
		if err != nil {
			return err
		}
	default:
		info, err = s.RenderAndSignFile(cmd.Context(), source)
		if err != nil {
			return err
		}
	}

	printSigned(cmd.OutOrStdout(), cmd.ErrOrStderr(), info)
	return nil
}

func printSigned(stdout, stderr io.Writer, info *htmlpdfsign.SignatureInfo) {
	fmt.Fprintf(stdout, "%s (signed by %s, alias %s)\n", info.Output, info.SignerName, info.Alias)
	for _, w := range info.Warnings {
		fmt.Fprintf(stderr, "warning: %v\n", w)
	}
}
