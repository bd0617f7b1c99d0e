package fdbk

import (
	"context"
	"io"
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TopicsFile is the layout of topic seed files.
type TopicsFile struct {
	Topics []Topic `yaml:"topics"`
}

// ReadTopicsYAML parses topic and template definitions.
func ReadTopicsYAML(r io.Reader) ([]Topic, error) {
	file := TopicsFile{}
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return []Topic{}, nil
		}
		return nil, errors.Wrap(err, "problem parsing topics")
	}

	for idx := range file.Topics {
		file.Topics[idx].Normalize()
	}
	return file.Topics, nil
}

// SeedTopicsFile adds every topic of the YAML file to the DB. Templates
// are added before the topics referencing them, so the file may list
// them in any order.
func SeedTopicsFile(ctx context.Context, db *DB, path string, opts AddTopicOptions) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem opening topics file '%s'", path)
	}
	defer f.Close()

	topics, err := ReadTopicsYAML(f)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading topics file '%s'", path)
	}

	ids := make([]string, 0, len(topics))
	for _, pass := range []bool{true, false} {
		for _, t := range topics {
			if t.IsTemplate() != pass {
				continue
			}
			id, err := db.AddTopic(ctx, t, opts)
			if err != nil {
				return ids, errors.Wrapf(err, "problem adding topic '%s'", t.Name)
			}
			ids = append(ids, id)
		}
	}

	grip.Info(message.Fields{
		"message": "seeded topics",
		"file":    path,
		"count":   len(ids),
	})

	return ids, nil
}
