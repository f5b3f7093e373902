package source

import "fmt"

// Vertex carries the process level identity of the stage running a source.
// It is passed explicitly to every factory.
type Vertex struct {
	Name    string
	Replica int32
}

// Factory builds a Source from a kind specific config file.
type Factory func(configPath string, v Vertex) (Source, error)

var registry = map[string]Factory{}

// Register is called from each driver's init().
func Register(kind string, f Factory) {
	registry[kind] = f
}

// New returns a source by kind ("generator", "kafka", "jetstream").
func New(kind, configPath string, v Vertex) (Source, error) {
	if f, ok := registry[kind]; ok {
		return f(configPath, v)
	}
	return nil, fmt.Errorf("source: unsupported kind %q", kind)
}
