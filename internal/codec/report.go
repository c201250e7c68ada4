package codec

import (
	"fmt"
	"io"

	"github.com/yairfalse/snapdelta/pkg/resource"
)

// Summary is the count block written at the top of a report document.
type Summary struct {
	Added         int `json:"added" yaml:"added"`
	Deleted       int `json:"deleted" yaml:"deleted"`
	Modified      int `json:"modified" yaml:"modified"`
	Unchanged     int `json:"unchanged" yaml:"unchanged"`
	TotalChanges  int `json:"total_changes" yaml:"total_changes"`
	BaselineCount int `json:"baseline_count" yaml:"baseline_count"`
	CurrentCount  int `json:"current_count" yaml:"current_count"`
}

// reportDocument is the on-disk shape of a delta report.
type reportDocument struct {
	Summary              Summary `json:"summary" yaml:"summary"`
	resource.DeltaReport `yaml:",inline"`
}

// SummaryOf computes the summary block for a report.
func SummaryOf(d *resource.DeltaReport) Summary {
	return Summary{
		Added:         len(d.Added),
		Deleted:       len(d.Deleted),
		Modified:      len(d.Modified),
		Unchanged:     d.UnchangedCount(),
		TotalChanges:  d.TotalChanges(),
		BaselineCount: d.BaselineCount,
		CurrentCount:  d.CurrentCount,
	}
}

// EncodeReport writes a delta report preceded by its summary block.
func EncodeReport(w io.Writer, d *resource.DeltaReport, f Format) error {
	doc := reportDocument{Summary: SummaryOf(d), DeltaReport: *d}
	if err := encode(w, doc, f); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// DecodeReport reads a report written by EncodeReport. The summary block is
// derived data and is returned alongside the report as written.
func DecodeReport(r io.Reader, f Format) (*resource.DeltaReport, Summary, error) {
	body, closer, err := maybeGunzip(r)
	if err != nil {
		return nil, Summary{}, err
	}
	defer closer()

	var doc reportDocument
	if err := decode(body, &doc, f); err != nil {
		return nil, Summary{}, fmt.Errorf("decode report: %w", err)
	}
	return &doc.DeltaReport, doc.Summary, nil
}
