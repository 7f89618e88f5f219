package generator

import (
	"path"

	"github.com/google/uuid"
)

// Generator is an interface that defines a method to generate a new value of type T.
// This can be used to generate unique identifiers, lazily iterate, etc.
type Generator[T any] interface {
	Next() (T, error)
}

// UUIDV4Generator is a generator that produces UUIDv4 strings.
// It implements the Generator interface.
type UUIDV4Generator struct{}

func (g *UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var _ Generator[string] = &UUIDV4Generator{}

// JobKeys names a transcode job and the objects it reads and writes.
type JobKeys struct {
	ID        string
	SourceKey string
	OutputKey string
}

// JobKeyGenerator derives object keys from a fresh job ID:
// "<prefix>/sources/<id>" and "<prefix>/outputs/<id>.opus".
type JobKeyGenerator struct {
	IDs    Generator[string]
	Prefix string
}

func (g *JobKeyGenerator) Next() (JobKeys, error) {
	ids := g.IDs
	if ids == nil {
		ids = &UUIDV4Generator{}
	}
	id, err := ids.Next()
	if err != nil {
		return JobKeys{}, err
	}
	return JobKeys{
		ID:        id,
		SourceKey: path.Join(g.Prefix, "sources", id),
		OutputKey: path.Join(g.Prefix, "outputs", id+".opus"),
	}, nil
}

var _ Generator[JobKeys] = (*JobKeyGenerator)(nil)
