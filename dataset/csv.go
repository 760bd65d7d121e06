// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/juju/errors"
)

type CSVOptions struct {
	Sep    rune
	Header bool
}

// ReadCSV parses interactions from r and passes them to handler one by one.
// Each record is `user,item[,weight[,timestamp]]`. A missing or empty
// weight means implicit feedback (1.0). Timestamps accept any layout
// dateparse understands, including unix seconds.
func ReadCSV(r io.Reader, opts CSVOptions, handler func(Interaction) error) error {
	reader := csv.NewReader(r)
	if opts.Sep != 0 {
		reader.Comma = opts.Sep
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true
	skipHeader := opts.Header
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		if skipHeader {
			skipHeader = false
			continue
		}
		line, _ := reader.FieldPos(0)
		interaction, err := parseRecord(record)
		if err != nil {
			return errors.Annotatef(err, "line %d", line)
		}
		if err = handler(interaction); err != nil {
			return errors.Trace(err)
		}
	}
}

// LoadCSV reads all interactions from r.
func LoadCSV(r io.Reader, opts CSVOptions) ([]Interaction, error) {
	var interactions []Interaction
	err := ReadCSV(r, opts, func(interaction Interaction) error {
		interactions = append(interactions, interaction)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return interactions, nil
}

func parseRecord(record []string) (Interaction, error) {
	if len(record) < 2 {
		return Interaction{}, errors.Errorf("expect at least 2 fields but got %d", len(record))
	}
	interaction := Interaction{
		UserId: strings.TrimSpace(record[0]),
		ItemId: strings.TrimSpace(record[1]),
		Weight: 1,
	}
	if err := ValidateId(interaction.UserId); err != nil {
		return Interaction{}, errors.Annotate(err, "invalid user id")
	}
	if err := ValidateId(interaction.ItemId); err != nil {
		return Interaction{}, errors.Annotate(err, "invalid item id")
	}
	if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
		weight, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 32)
		if err != nil {
			return Interaction{}, errors.Annotatef(ErrInvalidWeight, "failed to parse weight %q", record[2])
		}
		interaction.Weight = float32(weight)
	}
	if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
		timestamp, err := dateparse.ParseAny(strings.TrimSpace(record[3]))
		if err != nil {
			return Interaction{}, errors.Annotatef(err, "failed to parse timestamp %q", record[3])
		}
		interaction.Timestamp = timestamp
	}
	return interaction, nil
}
