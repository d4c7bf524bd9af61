package compression

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// ArchiveExtension is appended to a directory name to form its archive name.
const ArchiveExtension = ".tar.zst"

// DependencyChecker reports whether the tar and zstd binaries are available.
type DependencyChecker interface {
	CheckDependencies() bool
}

type binaryChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewDependencyChecker ...
func NewDependencyChecker(logger log.Logger, envRepo env.Repository) DependencyChecker {
	return binaryChecker{logger: logger, envRepo: envRepo}
}

// CheckDependencies ...
func (c binaryChecker) CheckDependencies() bool {
	return c.lookup("tar") && c.lookup("zstd")
}

func (c binaryChecker) lookup(binaryName string) bool {
	cmd := command.NewFactory(c.envRepo).Create("which", []string{binaryName}, nil)
	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Archiver packs a selected directory into a single zstd compressed tarball, so a directory
// selection can be uploaded as one file.
type Archiver struct {
	logger  log.Logger
	envRepo env.Repository
	checker DependencyChecker
}

// NewArchiver ...
func NewArchiver(logger log.Logger, envRepo env.Repository, checker DependencyChecker) *Archiver {
	return &Archiver{
		logger:  logger,
		envRepo: envRepo,
		checker: checker,
	}
}

// Archive writes the contents of dir into archivePath. Entry names are relative to dir.
func (a *Archiver) Archive(archivePath, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	if a.checker != nil && a.checker.CheckDependencies() {
		a.logger.Debugf("Using installed zstd binary")
		if err := a.archiveWithBinary(archivePath, dir); err != nil {
			return fmt.Errorf("archive directory: %w", err)
		}
		return nil
	}

	a.logger.Debugf("Falling back to native implementation of zstd.")
	if err := a.archiveWithGoLib(archivePath, dir); err != nil {
		return fmt.Errorf("archive directory: %w", err)
	}
	return nil
}

func (a *Archiver) archiveWithGoLib(archivePath, dir string) (err error) {
	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	root := filepath.Clean(dir)
	if err := filepath.Walk(root, func(file string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		if rel == "." {
			return nil
		}

		var link string
		if fi.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(file); err != nil {
				return fmt.Errorf("read symlink: %w", err)
			}
		}

		header, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return fmt.Errorf("create file info header: %w", err)
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar file header: %w", err)
		}

		// nothing more to do for non-regular files or directories
		if !fi.Mode().IsRegular() {
			return nil
		}

		data, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		if _, err := io.Copy(tw, data); err != nil {
			data.Close() //nolint:errcheck
			return fmt.Errorf("copy to archive: %w", err)
		}
		return data.Close()
	}); err != nil {
		return fmt.Errorf("iterate on files: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}

func (a *Archiver) archiveWithBinary(archivePath, dir string) error {
	/*
		tar arguments:
		--use-compress-program: Pipe the output to zstd instead of using the built-in gzip compression
		-c: Create archive
		-f: Output file
		-C: Change to the selected directory so entry names are relative to it
	*/
	tarArgs := []string{
		"--use-compress-program", "zstd --threads=0",
		"-c",
		"-f", archivePath,
		"-C", dir,
		".",
	}
	cmd := command.NewFactory(a.envRepo).Create("tar", tarArgs, nil)
	a.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}
	return nil
}

// List returns the entry names of an archive created by Archive.
func List(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close() //nolint:errcheck

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var names []string
	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar file: %w", err)
		}
		names = append(names, filepath.Clean(filepath.FromSlash(header.Name)))
	}
	return names, nil
}
