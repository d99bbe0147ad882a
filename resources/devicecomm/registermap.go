package devicecomm

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ggoodman/session-sharing-go/registry"
)

// Register is one row of a register map.
type Register struct {
	Name    string `json:"name"`
	Address uint32 `json:"address"`
	Default uint32 `json:"default"`
}

// LoadRegisterMap reads a register map CSV with the columns name, address and
// default. A header row is optional. Numbers accept Go literal prefixes, so
// 0x1F and 31 are the same address.
func LoadRegisterMap(path string) ([]Register, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q must be a .csv file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("register map: %w", err)
	}
	defer f.Close()
	return parseRegisterMap(path, f)
}

func parseRegisterMap(path string, r io.Reader) ([]Register, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var (
		regs   []Register
		names  = make(map[string]bool)
		addrs  = make(map[uint32]bool)
		lineNo int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q: %v", path, err)
		}
		lineNo++
		if lineNo == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "name") {
			continue
		}

		name := strings.TrimSpace(row[0])
		if name == "" {
			return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q: row %d has no name", path, lineNo)
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(row[1]), 0, 32)
		if err != nil {
			return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q: row %d address: %v", path, lineNo, err)
		}
		def, err := strconv.ParseUint(strings.TrimSpace(row[2]), 0, 32)
		if err != nil {
			return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q: row %d default: %v", path, lineNo, err)
		}
		if names[name] {
			return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q: duplicate register %q", path, name)
		}
		if addrs[uint32(addr)] {
			return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q: duplicate address %#x", path, addr)
		}
		names[name] = true
		addrs[uint32(addr)] = true
		regs = append(regs, Register{Name: name, Address: uint32(addr), Default: uint32(def)})
	}
	if len(regs) == 0 {
		return nil, registry.Errorf(registry.CodeInvalidArgument, "register map %q defines no registers", path)
	}
	return regs, nil
}
