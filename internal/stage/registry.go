package stage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"assetpipe/internal/queue"
)

// Definition describes one registered stage.
type Definition struct {
	Name    queue.Stage
	Label   string
	Execute Executor
	// Skip reports whether the stage's work is already present on the item.
	Skip func(*queue.Item) bool
}

// Registry is the ordered stage catalog.
type Registry struct {
	defs  []Definition
	index map[queue.Stage]int
}

// NewRegistry returns the default catalog with the built-in executors.
func NewRegistry() *Registry {
	return NewRegistryWith(
		Definition{Name: queue.StageScrape, Execute: scrape},
		Definition{Name: queue.StageSelectImages, Execute: selectImages},
		Definition{Name: queue.StageRemoveBackground, Execute: removeBackground},
		Definition{Name: queue.StageGenerate3D, Label: "Generate 3D", Execute: generate3D},
		Definition{Name: queue.StageOptimize, Execute: optimize},
		Definition{Name: queue.StageSave, Execute: saveFinal},
	)
}

// NewRegistryWith builds a catalog from explicit definitions, in order.
// Missing labels and skip predicates are filled with defaults.
func NewRegistryWith(defs ...Definition) *Registry {
	r := &Registry{index: make(map[queue.Stage]int, len(defs))}
	for _, def := range defs {
		if def.Label == "" {
			def.Label = Label(def.Name)
		}
		if def.Skip == nil {
			stage := def.Name
			def.Skip = func(item *queue.Item) bool { return item.StageCompleted(stage) }
		}
		r.index[def.Name] = len(r.defs)
		r.defs = append(r.defs, def)
	}
	return r
}

// Lookup returns the definition for stage.
func (r *Registry) Lookup(stage queue.Stage) (Definition, bool) {
	idx, ok := r.index[stage]
	if !ok {
		return Definition{}, false
	}
	return r.defs[idx], true
}

// Stages returns the registered stage names in order.
func (r *Registry) Stages() []queue.Stage {
	out := make([]queue.Stage, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Name)
	}
	return out
}

// NextStage walks the item's plan and returns the first stage whose skip
// predicate does not hold. It is derived purely from the item's stage results,
// so a resumed item picks up exactly where it stopped.
func (r *Registry) NextStage(item *queue.Item) (queue.Stage, bool) {
	if item == nil {
		return "", false
	}
	for _, stage := range item.Plan {
		def, ok := r.Lookup(stage)
		if !ok {
			continue
		}
		if !def.Skip(item) {
			return stage, true
		}
	}
	return "", false
}

// Label turns a stage name into a human label ("remove-background" -> "Remove Background").
func Label(stage queue.Stage) string {
	words := strings.ReplaceAll(string(stage), "-", " ")
	return cases.Title(language.English).String(words)
}
