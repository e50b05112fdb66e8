package htmlpdfsign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SignedSuffix is appended to the stem of the input file name.
const SignedSuffix = "-signed.pdf"

// OutputPath returns <dir>/<stem>-signed.pdf for input. An empty dir places
// the file next to input.
func OutputPath(dir, input string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "document"
	}
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, stem+SignedSuffix)
}

// SignFile signs the PDF at path and writes it to OutputPath.
func (s *Signer) SignFile(ctx context.Context, path string) (*SignatureInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, &IOError{Op: "stat", Path: path, Err: err}
	}
	if st.IsDir() {
		return nil, &IOError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}

	output := OutputPath(s.opts.OutputDir, path)

	var info *SignatureInfo
	err = writeFile(output, func(w io.Writer) error {
		var err error
		info, err = s.sign(ctx, ioReader{f, path}, st.Size(), ioWriter{w, output})
		return err
	})
	if err != nil {
		return nil, err
	}

	info.Input = path
	info.Output = output
	return info, nil
}

// SignFiles signs every path with at most Options.Workers documents in
// flight. A failing document does not stop the others; the returned error
// joins all failures.
func (s *Signer) SignFiles(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, path := range paths {
		results[i].Input = path
		g.Go(func() error {
			info, err := s.SignFile(ctx, path)
			if err != nil {
				s.log.Error("signing failed", zap.String("input", path), zap.String("kind", Kind(err)), zap.Error(err))
				results[i].Err = err
				return nil
			}
			results[i].Info = info
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Input, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// writeFile writes path through a temporary file in the same directory that
// is renamed into place once write succeeds.
func writeFile(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "create", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return &IOError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// ioReader and ioWriter report failures of the underlying file as IOError.
type ioReader struct {
	f    io.ReadSeeker
	path string
}

func (r ioReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && err != io.EOF {
		err = &IOError{Op: "read", Path: r.path, Err: err}
	}
	return n, err
}

func (r ioReader) Seek(offset int64, whence int) (int64, error) {
	n, err := r.f.Seek(offset, whence)
	if err != nil {
		err = &IOError{Op: "seek", Path: r.path, Err: err}
	}
	return n, err
}

type ioWriter struct {
	w    io.Writer
	path string
}

func (w ioWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		err = &IOError{Op: "write", Path: w.path, Err: err}
	}
	return n, err
}
