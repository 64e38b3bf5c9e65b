// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package regsim

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RegisterValue is one row of a register values file.
type RegisterValue struct {
	Address int
	Value   uint16
}

var registerCSVHeader = []string{"address", "value"}

// ParseRegisterCSV reads "address,value" rows. The header row is required;
// numbers accept Go literal prefixes such as 0x.
func ParseRegisterCSV(reader io.Reader) ([]RegisterValue, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = len(registerCSVHeader)

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV file")
	}
	for i, name := range registerCSVHeader {
		if strings.ToLower(strings.TrimSpace(records[0][i])) != name {
			return nil, fmt.Errorf("invalid header: expected %v, got %v", registerCSVHeader, records[0])
		}
	}

	values := make([]RegisterValue, 0, len(records)-1)
	for i, record := range records[1:] {
		addr, err := strconv.ParseUint(strings.TrimSpace(record[0]), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid address %q: %w", i+2, record[0], err)
		}
		value, err := strconv.ParseUint(strings.TrimSpace(record[1]), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid value %q: %w", i+2, record[1], err)
		}
		values = append(values, RegisterValue{Address: int(addr), Value: uint16(value)})
	}
	return values, nil
}

// LoadRegisterCSV writes the rows of reader into m. No register changes when
// a row is malformed or out of range.
func LoadRegisterCSV(m *RegisterMap, reader io.Reader) error {
	values, err := ParseRegisterCSV(reader)
	if err != nil {
		return err
	}
	for _, v := range values {
		if v.Address >= m.Size() {
			return fmt.Errorf("address 0x%04X outside register map of %d", v.Address, m.Size())
		}
	}
	for _, v := range values {
		m.Write(v.Address, int(v.Value))
	}
	return nil
}

// WriteRegisterCSV writes a snapshot as "address,value" rows in hex.
func WriteRegisterCSV(w io.Writer, snapshot []uint16) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(registerCSVHeader); err != nil {
		return err
	}
	for addr, value := range snapshot {
		row := []string{fmt.Sprintf("0x%04X", addr), fmt.Sprintf("0x%04X", value)}
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
