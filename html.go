package htmlpdfsign

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/digitorus/htmlpdfsign/htmldoc"
)

// RenderAndSign renders doc to PDF and writes the signed result to output.
// The timeout covers rendering and signing together.
func (s *Signer) RenderAndSign(ctx context.Context, doc *htmldoc.Document, output io.Writer) (*SignatureInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.renderAndSign(ctx, doc, output)
}

func (s *Signer) renderAndSign(ctx context.Context, doc *htmldoc.Document, output io.Writer) (*SignatureInfo, error) {
	var rendered bytes.Buffer
	if err := s.opts.Renderer.Render(ctx, doc, &rendered); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RenderError{Err: err}
	}
	s.log.Debug("rendered document",
		zap.String("title", doc.Title),
		zap.Int("bytes", rendered.Len()),
	)

	return s.sign(ctx, bytes.NewReader(rendered.Bytes()), int64(rendered.Len()), output)
}

// RenderAndSignFile fetches the HTML document at source (a path, file:// or
// http(s) URL), renders and signs it, and writes <stem>-signed.pdf. Remote
// documents are written to the output directory, or the working directory
// when none is configured.
func (s *Signer) RenderAndSignFile(ctx context.Context, source string) (*SignatureInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := htmldoc.Fetch(ctx, source, s.opts.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &IOError{Op: "fetch", Path: source, Err: err}
	}

	info, err := s.writeDocument(ctx, doc, htmlOutputPath(s.opts.OutputDir, source))
	if err != nil {
		return nil, err
	}
	info.Input = source
	return info, nil
}

// RenderAndSignTo renders and signs doc into the file at output.
func (s *Signer) RenderAndSignTo(ctx context.Context, doc *htmldoc.Document, output string) (*SignatureInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.writeDocument(ctx, doc, output)
}

func (s *Signer) writeDocument(ctx context.Context, doc *htmldoc.Document, output string) (*SignatureInfo, error) {
	var info *SignatureInfo
	err := writeFile(output, func(w io.Writer) error {
		var err error
		info, err = s.renderAndSign(ctx, doc, ioWriter{w, output})
		return err
	})
	if err != nil {
		return nil, err
	}
	info.Output = output
	return info, nil
}

func htmlOutputPath(dir, source string) string {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if err == nil && u.Scheme == "file" {
			source = filepath.FromSlash(u.Path)
		}
		return OutputPath(dir, source)
	}

	if dir == "" {
		dir = "."
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = "index"
	}
	return OutputPath(dir, name)
}
