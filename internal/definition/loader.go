// Package definition loads the YAML files that declare the console's list
// pages and backend commands, validates them, and serves them from a
// registry that is swapped atomically on reload.
package definition

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/vigil/model"
)

// ChecksumFile is the optional sha256sum-style manifest read from each
// definition directory.
const ChecksumFile = "SHA256SUMS"

// Loader scans directories for YAML definition files, parses them, and
// computes SHA-256 checksums.
type Loader struct {
	strict bool
	logger *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStrictChecksums makes a checksum mismatch, or a file missing from a
// present manifest, a load error instead of a warning.
func WithStrictChecksums(strict bool) LoaderOption {
	return func(l *Loader) { l.strict = strict }
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a new definition Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a DomainDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.DomainDefinition, error) {
	var defs []model.DomainDefinition

	for _, dir := range directories {
		sums, err := readChecksums(filepath.Join(dir, ChecksumFile))
		if err != nil {
			return nil, err
		}

		err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			if sums != nil {
				rel, _ := filepath.Rel(dir, path)
				if err := l.verify(filepath.ToSlash(rel), def.Checksum, sums); err != nil {
					return err
				}
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

func (l *Loader) verify(rel, checksum string, sums map[string]string) error {
	want, listed := sums[rel]
	var problem string
	switch {
	case !listed:
		problem = "not listed in " + ChecksumFile
	case want != checksum:
		problem = "checksum mismatch"
	default:
		return nil
	}
	if l.strict {
		return fmt.Errorf("%s: %s", rel, problem)
	}
	l.logger.Warn("definition integrity check failed",
		zap.String("file", rel),
		zap.String("problem", problem),
	)
	return nil
}

// readChecksums parses "<hex>  <file>" lines. A missing manifest yields nil.
func readChecksums(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	sums := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sum, file, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%s:%d: malformed line", path, n)
		}
		file = strings.TrimPrefix(strings.TrimSpace(file), "*")
		sums[file] = strings.ToLower(sum)
	}
	return sums, sc.Err()
}

// LoadFile loads and parses a single YAML definition file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (model.DomainDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DomainDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.DomainDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.DomainDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}
