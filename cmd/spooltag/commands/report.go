// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/tagcodec"
)

// recordReport is the JSON shape of a decoded or encoded record.
type recordReport struct {
	Source      string             `json:"source,omitempty"`
	Format      string             `json:"format,omitempty"`
	Confidence  string             `json:"confidence,omitempty"`
	Fingerprint string             `json:"fingerprint"`
	Record      spool.Record       `json:"record"`
	Corrections []correctionReport `json:"corrections"`
	Hints       []hintReport       `json:"hints"`
}

type correctionReport struct {
	Field   string `json:"field"`
	Outcome string `json:"outcome"`
	Raw     string `json:"raw,omitempty"`
	Value   any    `json:"value"`
}

type hintReport struct {
	Field  string  `json:"field"`
	Value  int     `json:"value"`
	Family string  `json:"family"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func newRecordReport(source string, record spool.Record, corrections []spool.Correction) (recordReport, error) {
	fingerprint, err := record.Fingerprint()
	if err != nil {
		return recordReport{}, fmt.Errorf("fingerprinting record: %w", err)
	}
	report := recordReport{
		Source:      source,
		Fingerprint: fingerprint,
		Record:      record,
		Corrections: make([]correctionReport, 0, len(corrections)),
		Hints:       []hintReport{},
	}
	for _, correction := range corrections {
		entry := correctionReport{
			Field:   correction.Field.Key(),
			Outcome: correction.Outcome.String(),
			Value:   correction.Value,
		}
		if correction.Raw != nil {
			entry.Raw = fmt.Sprint(correction.Raw)
		}
		report.Corrections = append(report.Corrections, entry)
	}
	for _, hint := range spool.PlausibilityHints(record) {
		report.Hints = append(report.Hints, hintReport{
			Field:  hint.Field.Key(),
			Value:  hint.Value,
			Family: string(hint.Family),
			Min:    hint.Range.Min,
			Max:    hint.Range.Max,
		})
	}
	return report, nil
}

func decodeReport(source string, result *payload.Result) (recordReport, error) {
	report, err := newRecordReport(source, result.Record, result.Corrections)
	if err != nil {
		return recordReport{}, err
	}
	report.Format = result.Format.String()
	report.Confidence = confidenceOf(result.Tag)
	return report, nil
}

// confidenceOf grades a binary decode. Structured inputs carry no
// integrity fields and report "".
func confidenceOf(tag *tagcodec.Decoded) string {
	if tag == nil {
		return ""
	}
	return tag.Integrity.Confidence().String()
}
