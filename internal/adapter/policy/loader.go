package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Configuration errors. All of them are fatal at startup.
var (
	ErrPolicyRead    = errors.New("failed to read policy file")
	ErrPolicyParse   = errors.New("failed to parse policy file")
	ErrPolicyInvalid = errors.New("invalid policy")
)

// Format selects the decoder for a policy document.
type Format int

const (
	// FormatAuto tries JSON first and falls back to YAML.
	FormatAuto Format = iota
	FormatYAML
	FormatJSON
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// LoadFromFile reads a policy file and returns a validated PolicyConfig.
func LoadFromFile(path string) (*domain.PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPolicyRead, err)
	}
	return Parse(data, FormatFromPath(path))
}

// Parse decodes and validates a policy document.
func Parse(data []byte, format Format) (*domain.PolicyConfig, error) {
	var (
		f   File
		err error
	)
	switch format {
	case FormatYAML:
		err = decodeYAML(data, &f)
	case FormatJSON:
		err = decodeJSON(data, &f)
	default:
		if err = decodeJSON(data, &f); err != nil {
			f = File{}
			err = decodeYAML(data, &f)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPolicyParse, err)
	}
	return f.Compile()
}

// Unknown keys are rejected so a misspelled rule cannot silently disable itself.
func decodeYAML(data []byte, f *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeJSON(data []byte, f *File) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(f)
}
