// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package process

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	yaml "gopkg.in/yaml.v2"
)

// SaveConfigWithAllDefaults writes the flags to outfile as yaml. Flags that
// are still at their default value are written as comments, so the file
// documents the full configuration surface. Values in overrides are always
// written out.
func SaveConfigWithAllDefaults(flags *pflag.FlagSet, outfile string, overrides map[string]interface{}) error {
	var keys []string
	lookup := map[string]*pflag.Flag{}
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "help" {
			return
		}
		if readBoolAnnotation(f, "setup") || readBoolAnnotation(f, "hidden") {
			return
		}
		keys = append(keys, f.Name)
		lookup[f.Name] = f
	})
	sort.Strings(keys)

	var w bytes.Buffer
	for _, key := range keys {
		f := lookup[key]

		value := f.Value.String()
		override, hasOverride := overrides[key]
		if hasOverride {
			value = fmt.Sprint(override)
		}

		if f.Usage != "" {
			fmt.Fprintf(&w, "# %s\n", f.Usage)
		}
		if f.Changed || hasOverride {
			fmt.Fprintf(&w, "%s: %s\n\n", key, yamlValue(f, value))
		} else {
			fmt.Fprintf(&w, "# %s: %s\n\n", key, yamlValue(f, value))
		}
	}

	return atomicWrite(outfile, 0600, w.Bytes())
}

// yamlValue renders value so that reading the file back yields the same
// flag value. Only strings need escaping, everything else round-trips as
// a plain scalar.
func yamlValue(f *pflag.Flag, value string) string {
	switch f.Value.Type() {
	case "string":
		data, err := yaml.Marshal(value)
		if err != nil {
			return value
		}
		return string(bytes.TrimSpace(data))
	default:
		return value
	}
}

// readBoolAnnotation is a helper to see if a boolean annotation is set to true on the flag.
func readBoolAnnotation(flag *pflag.Flag, key string) bool {
	annotation := flag.Annotations[key]
	return len(annotation) > 0 && annotation[0] == "true"
}

// atomicWrite is a helper to atomically write the data to the outfile.
func atomicWrite(outfile string, mode os.FileMode, data []byte) (err error) {
	fh, err := ioutil.TempFile(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, fh.Close())
			err = errs.Combine(err, os.Remove(fh.Name()))
		}
	}()
	if _, err := fh.Write(data); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Sync(); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Close(); err != nil {
		return errs.Wrap(err)
	}
	if err := os.Rename(fh.Name(), outfile); err != nil {
		return errs.Wrap(err)
	}
	return nil
}
