// Package records loads service opportunity rows from JSON, YAML, CSV or XLSX files.
package records

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/opportunity-planner/internal/model"
)

// Format identifies an input file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Input is one calculator pass: the rows plus optional planning preferences.
type Input struct {
	Records     []model.ServiceOpportunity `json:"records" yaml:"records"`
	Preferences model.PlanPreferences      `json:"preferences" yaml:"preferences"`
}

// DetectFormat maps a file extension to a Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("records: unsupported file extension %q", filepath.Ext(path))
	}
}

// LoadFile reads and normalizes the records in path. Tabular formats carry no
// preferences; the caller supplies them.
func LoadFile(path string) (*Input, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var in *Input
	if format == FormatXLSX {
		rows, err := readXLSX(path)
		if err != nil {
			return nil, err
		}
		recs, err := fromRows(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "records: %s", path)
		}
		in = &Input{Records: recs}
	} else {
		f, err := os.Open(path) //nolint:gosec // path is operator-supplied
		if err != nil {
			return nil, eris.Wrap(err, "records: open file")
		}
		defer f.Close() //nolint:errcheck
		in, err = Decode(f, format)
		if err != nil {
			return nil, eris.Wrapf(err, "records: %s", path)
		}
	}

	in.Records = Normalize(in.Records)
	return in, nil
}

// Decode reads an Input from r. JSON and YAML accept either a bare list of
// records or an object with records and preferences.
func Decode(r io.Reader, format Format) (*Input, error) {
	switch format {
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrap(err, "records: read json")
		}
		return decodeJSON(data)
	case FormatYAML:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrap(err, "records: read yaml")
		}
		return decodeYAML(data)
	case FormatCSV:
		rows, err := readCSV(r)
		if err != nil {
			return nil, err
		}
		recs, err := fromRows(rows)
		if err != nil {
			return nil, err
		}
		return &Input{Records: recs}, nil
	default:
		return nil, eris.Errorf("records: format %q cannot be streamed", format)
	}
}

func decodeJSON(data []byte) (*Input, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var recs []model.ServiceOpportunity
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, eris.Wrap(err, "records: decode json list")
		}
		return &Input{Records: recs}, nil
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, eris.Wrap(err, "records: decode json")
	}
	return &in, nil
}

func decodeYAML(data []byte) (*Input, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, eris.Wrap(err, "records: decode yaml")
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var recs []model.ServiceOpportunity
		if err := node.Decode(&recs); err != nil {
			return nil, eris.Wrap(err, "records: decode yaml list")
		}
		return &Input{Records: recs}, nil
	}
	var in Input
	if err := node.Decode(&in); err != nil {
		return nil, eris.Wrap(err, "records: decode yaml")
	}
	return &in, nil
}

// Normalize fills derived fields. A missing id falls back to the name,
// additionalValue is derived from potential minus current when absent and
// negative values are clamped to zero.
func Normalize(recs []model.ServiceOpportunity) []model.ServiceOpportunity {
	out := make([]model.ServiceOpportunity, 0, len(recs))
	for _, r := range recs {
		r.ID = strings.TrimSpace(r.ID)
		r.Name = strings.TrimSpace(r.Name)
		if r.ID == "" {
			r.ID = r.Name
		}
		if r.AdditionalValue == 0 && r.PotentialValue != 0 {
			r.AdditionalValue = r.PotentialValue - r.CurrentValue
		}
		if r.AdditionalValue < 0 {
			zap.L().Warn("records: negative additional value clamped to zero",
				zap.String("id", r.ID),
				zap.Float64("additional_value", r.AdditionalValue),
			)
			r.AdditionalValue = 0
		}
		if r.GrowthPercentage == 0 && r.CurrentValue > 0 && r.AdditionalValue > 0 {
			r.GrowthPercentage = r.AdditionalValue / r.CurrentValue * 100
		}
		out = append(out, r)
	}
	return out
}
