// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package memory

import (
	"fmt"
	"strconv"
	"strings"
)

// Size implements a byte count with human friendly formatting and parsing.
type Size int64

// base 2 sizes
const (
	B Size = 1 << (10 * iota)
	KiB
	MiB
	GiB
	TiB
	PiB
	EiB
)

// base 10 sizes
const (
	KB Size = 1e3
	MB Size = 1e6
	GB Size = 1e9
	TB Size = 1e12
	PB Size = 1e15
	EB Size = 1e18
)

// Int returns bytes size as int.
func (size Size) Int() int { return int(size) }

// Int32 returns bytes size as int32.
func (size Size) Int32() int32 { return int32(size) }

// Int64 returns bytes size as int64.
func (size Size) Int64() int64 { return int64(size) }

// Float64 returns bytes size as float64.
func (size Size) Float64() float64 { return float64(size) }

// KiB returns size in kibibytes.
func (size Size) KiB() float64 { return size.Float64() / KiB.Float64() }

// MiB returns size in mebibytes.
func (size Size) MiB() float64 { return size.Float64() / MiB.Float64() }

// GiB returns size in gibibytes.
func (size Size) GiB() float64 { return size.Float64() / GiB.Float64() }

// String converts size to a string using base-2 prefixes, unless the number
// appears to be in base 10.
func (size Size) String() string {
	if size == 0 {
		return "0"
	}

	switch {
	case size >= EiB*2/3:
		return fmt.Sprintf("%.1f EiB", size.Float64()/EiB.Float64())
	case size >= TiB*2/3:
		return fmt.Sprintf("%.1f TiB", size.Float64()/TiB.Float64())
	case size >= GiB*2/3:
		return fmt.Sprintf("%.1f GiB", size.GiB())
	case size >= MiB*2/3:
		return fmt.Sprintf("%.1f MiB", size.MiB())
	case size >= KiB*2/3:
		return fmt.Sprintf("%.1f KiB", size.KiB())
	}

	return strconv.FormatInt(size.Int64(), 10) + " B"
}

func isLetter(b byte) bool {
	return ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Set updates value from string.
func (size *Size) Set(s string) error {
	if s == "" {
		return fmt.Errorf("empty size")
	}

	p := len(s)
	for p > 0 && (isLetter(s[p-1]) || s[p-1] == ' ') {
		p--
	}
	value, suffix := s[:p], s[p:]
	suffix = strings.TrimSpace(strings.ToUpper(suffix))
	if suffix == "" || suffix[len(suffix)-1] != 'B' {
		suffix += "B"
	}

	value = strings.TrimSpace(value)
	base, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}

	switch suffix {
	case "EB":
		*size = Size(base * EB.Float64())
	case "EIB":
		*size = Size(base * EiB.Float64())
	case "PB":
		*size = Size(base * PB.Float64())
	case "PIB":
		*size = Size(base * PiB.Float64())
	case "TB":
		*size = Size(base * TB.Float64())
	case "TIB":
		*size = Size(base * TiB.Float64())
	case "GB":
		*size = Size(base * GB.Float64())
	case "GIB":
		*size = Size(base * GiB.Float64())
	case "MB":
		*size = Size(base * MB.Float64())
	case "MIB":
		*size = Size(base * MiB.Float64())
	case "KB":
		*size = Size(base * KB.Float64())
	case "KIB":
		*size = Size(base * KiB.Float64())
	case "B", "":
		*size = Size(base)
	default:
		return fmt.Errorf("unknown suffix %q", suffix)
	}

	return nil
}

// Type implements pflag.Value.
func (Size) Type() string { return "memory.Size" }
