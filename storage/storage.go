// Package storage creates storage backends from a plugin name and
// command line parameters.
package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/storage/bsonfile"
	"github.com/fdbk/fdbk/storage/dict"
	"github.com/fdbk/fdbk/storage/mongodb"
	"github.com/pkg/errors"
)

// Plugin names.
const (
	Dict     = "dict"
	BSONFile = "bsonfile"
	MongoDB  = "mongodb"
)

var aliases = map[string]string{
	Dict:                 Dict,
	"DictConnection":     Dict,
	BSONFile:             BSONFile,
	"BSONFileConnection": BSONFile,
	MongoDB:              MongoDB,
	"mongo":              MongoDB,
	"MongoConnection":    MongoDB,
}

// Plugins returns the accepted plugin names.
func Plugins() []string {
	out := make([]string, 0, len(aliases))
	for name := range aliases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Parameters are backend parameters given on the command line.
// Parameters of the form key=value are keyword parameters and the others
// are positional.
type Parameters struct {
	Args   []string
	Kwargs map[string]string
}

// ParseParameters splits the parameters at the first "=".
func ParseParameters(in []string) Parameters {
	out := Parameters{Args: []string{}, Kwargs: map[string]string{}}
	for _, p := range in {
		if key, value, ok := strings.Cut(p, "="); ok {
			out.Kwargs[key] = value
			continue
		}
		out.Args = append(out.Args, p)
	}
	return out
}

type parameterReader struct {
	params Parameters
	used   map[string]struct{}
}

// get returns the keyword parameter, or the positional parameter at idx
// when the keyword is not given.
func (r *parameterReader) get(idx int, key string) string {
	r.used[key] = struct{}{}
	if v, ok := r.params.Kwargs[key]; ok {
		return v
	}
	if idx < len(r.params.Args) {
		return r.params.Args[idx]
	}
	return ""
}

func (r *parameterReader) check(positional int) error {
	if len(r.params.Args) > positional {
		return errors.Wrapf(fdbk.ErrValidation, "too many positional parameters: %d > %d", len(r.params.Args), positional)
	}
	for key := range r.params.Kwargs {
		if _, ok := r.used[key]; !ok {
			return errors.Wrapf(fdbk.ErrValidation, "unknown parameter '%s'", key)
		}
	}
	return nil
}

// Open creates the backend of the plugin.
func Open(ctx context.Context, plugin string, params []string) (fdbk.Backend, error) {
	name, ok := aliases[plugin]
	if !ok {
		return nil, errors.Wrapf(fdbk.ErrValidation, "unknown storage plugin '%s'", plugin)
	}

	r := &parameterReader{params: ParseParameters(params), used: map[string]struct{}{}}

	switch name {
	case Dict:
		opts := dict.Options{TopicsBackup: r.get(0, "topics_db_backup")}
		if err := r.check(1); err != nil {
			return nil, errors.WithStack(err)
		}
		b, err := dict.New(opts)
		if err != nil {
			return nil, errors.Wrap(err, "problem creating dict storage")
		}
		return b, nil
	case BSONFile:
		opts := bsonfile.Options{Path: r.get(0, "path")}
		if err := r.check(1); err != nil {
			return nil, errors.WithStack(err)
		}
		b, err := bsonfile.New(opts)
		if err != nil {
			return nil, errors.Wrap(err, "problem creating bsonfile storage")
		}
		return b, nil
	default:
		opts := mongodb.Options{URI: r.get(0, "uri"), Database: r.get(1, "database")}
		if timeout := r.get(2, "timeout"); timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return nil, errors.Wrapf(fdbk.ErrValidation, "invalid timeout '%s'", timeout)
			}
			opts.Timeout = d
		}
		if err := r.check(3); err != nil {
			return nil, errors.WithStack(err)
		}
		b, err := mongodb.New(ctx, opts)
		if err != nil {
			return nil, errors.Wrap(err, "problem creating mongodb storage")
		}
		return b, nil
	}
}
